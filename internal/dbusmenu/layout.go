package dbusmenu

import (
	"fmt"
	"strings"

	"github.com/gmenu/gmenu/internal/menu"
	"github.com/godbus/dbus/v5"
)

// ParseLayout decodes the layout argument of a GetLayout reply into a menu
// tree. The wire shape is (ia{sv}av): id, property bag, children, where each
// child is wrapped in a variant one level deeper than its parent.
func ParseLayout(data interface{}) (*menu.Node, error) {
	arr, ok := data.([]interface{})
	if !ok || len(arr) != 3 {
		return nil, fmt.Errorf("menu node: invalid format")
	}

	id, ok := arr[0].(int32)
	if !ok {
		return nil, fmt.Errorf("menu node: invalid id")
	}

	props, ok := arr[1].(map[string]dbus.Variant)
	if !ok {
		return nil, fmt.Errorf("menu node: invalid props")
	}

	children, ok := arr[2].([]dbus.Variant)
	if !ok {
		return nil, fmt.Errorf("menu node: invalid children")
	}

	node := menu.NewNode(id)
	applyProperties(node, props)

	for _, child := range children {
		childNode, err := ParseLayout(child.Value())
		if err != nil {
			continue
		}
		node.Children = append(node.Children, childNode)
	}

	return node, nil
}

// applyProperties maps the dbusmenu property bag onto a node. Unknown keys
// are ignored; defaults (standard, enabled, visible) were set by NewNode.
func applyProperties(node *menu.Node, props map[string]dbus.Variant) {
	for key, v := range props {
		switch key {
		case "label":
			if s, ok := v.Value().(string); ok {
				node.Label = s
			}
		case "type":
			if s, ok := v.Value().(string); ok && s != "" {
				node.Type = s
			}
		case "toggle-type":
			if s, ok := v.Value().(string); ok {
				node.ToggleType = s
			}
		case "toggle-state":
			if i, ok := v.Value().(int32); ok {
				node.ToggleState = i
			}
		case "enabled":
			if b, ok := v.Value().(bool); ok {
				node.Enabled = b
			}
		case "visible":
			if b, ok := v.Value().(bool); ok {
				node.Visible = b
			}
		case "icon-name":
			if s, ok := v.Value().(string); ok {
				node.IconName = s
			}
		case "shortcut":
			node.Shortcut = formatShortcut(v.Value())
		case "children-display":
			if s, ok := v.Value().(string); ok {
				node.ChildrenDisplay = s
			}
		}
	}
}

// formatShortcut renders the wire shortcut value (a sequence of key
// combinations, each a sequence of key names) as "name+name" per combination.
// Renderers only use the first combination, but all are parsed.
func formatShortcut(value interface{}) string {
	combos, ok := value.([][]string)
	if !ok {
		// Some implementations send aav; unwrap variants.
		outer, ok := value.([]dbus.Variant)
		if !ok {
			return ""
		}
		combos = make([][]string, 0, len(outer))
		for _, v := range outer {
			if keys, ok := v.Value().([]string); ok {
				combos = append(combos, keys)
			}
		}
	}

	parts := make([]string, 0, len(combos))
	for _, combo := range combos {
		if len(combo) == 0 {
			continue
		}
		parts = append(parts, strings.Join(combo, "+"))
	}
	return strings.Join(parts, ", ")
}
