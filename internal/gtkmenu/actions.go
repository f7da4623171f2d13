package gtkmenu

import "strings"

// ActionTarget selects which org.gtk.Actions object an action dispatches to.
type ActionTarget int

const (
	// TargetApp dispatches to the application actions object.
	TargetApp ActionTarget = iota
	// TargetWin dispatches to the window actions object, falling back to the
	// application object when the window path is unset.
	TargetWin
)

// SplitAction strips the action group prefix and selects the dispatch
// target. "app.Foo" and "unity.Foo" go to the application object, "win.Bar"
// to the window object; an unprefixed name goes to the application object
// unchanged.
func SplitAction(action string) (name string, target ActionTarget) {
	switch {
	case strings.HasPrefix(action, "app."):
		return strings.TrimPrefix(action, "app."), TargetApp
	case strings.HasPrefix(action, "win."):
		return strings.TrimPrefix(action, "win."), TargetWin
	case strings.HasPrefix(action, "unity."):
		return strings.TrimPrefix(action, "unity."), TargetApp
	default:
		return action, TargetApp
	}
}
