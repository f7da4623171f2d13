package gtkmenu

import "testing"

func TestSplitAction(t *testing.T) {
	tests := []struct {
		action     string
		wantName   string
		wantTarget ActionTarget
	}{
		{"app.Foo", "Foo", TargetApp},
		{"win.Bar", "Bar", TargetWin},
		{"unity.Quit", "Quit", TargetApp},
		{"Baz", "Baz", TargetApp},
		{"app.with.dots", "with.dots", TargetApp},
	}

	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			name, target := SplitAction(tt.action)
			if name != tt.wantName || target != tt.wantTarget {
				t.Fatalf("SplitAction(%q) = (%q, %d), want (%q, %d)",
					tt.action, name, target, tt.wantName, tt.wantTarget)
			}
		})
	}
}
