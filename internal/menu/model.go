// Package menu holds the renderable menu model shared by both wire protocols.
// It is pure data: protocol clients build it, the coordinator and the API
// server consume it. No D-Bus types leak into this package.
package menu

// ToggleState values for checkmark/radio items. -1 means indeterminate.
const (
	ToggleIndeterminate int32 = -1
	ToggleOff           int32 = 0
	ToggleOn            int32 = 1
)

// Item type values.
const (
	TypeStandard  = "standard"
	TypeSeparator = "separator"
)

// Node is one entry in a resolved menu tree. The root node is synthetic
// (ID 0) and never rendered directly; its children are the top-level bar
// entries.
type Node struct {
	// ID is the dbusmenu item id. Zero for flat-protocol items, which are
	// activated by Action instead.
	ID int32 `json:"id"`

	Label string `json:"label"`

	// Type is "standard" or "separator".
	Type string `json:"type"`

	// ToggleType is "", "checkmark" or "radio".
	ToggleType  string `json:"toggle_type,omitempty"`
	ToggleState int32  `json:"toggle_state"`

	Enabled  bool   `json:"enabled"`
	Visible  bool   `json:"visible"`
	IconName string `json:"icon_name,omitempty"`
	Shortcut string `json:"shortcut,omitempty"`

	// ChildrenDisplay is "submenu" when the application marks this node as
	// having a (possibly lazily populated) submenu.
	ChildrenDisplay string `json:"children_display,omitempty"`

	// Action is the flat-protocol action name ("app.new", "win.close", ...).
	// Empty for dbusmenu items.
	Action string `json:"action,omitempty"`

	// SubmenuRef is the flat-protocol "group:index" key of a submenu that
	// has not been expanded yet. Empty once expanded or for dbusmenu items.
	SubmenuRef string `json:"submenu_ref,omitempty"`

	Children []*Node `json:"children,omitempty"`
}

// NewNode returns a standard, enabled, visible node.
func NewNode(id int32) *Node {
	return &Node{
		ID:          id,
		Type:        TypeStandard,
		ToggleState: ToggleIndeterminate,
		Enabled:     true,
		Visible:     true,
	}
}

// IsSeparator reports whether the node renders as a separator line.
func (n *Node) IsSeparator() bool {
	return n.Type == TypeSeparator
}

// HasSubmenu reports whether the node opens a submenu. Submenu population
// may be lazy: a node can advertise "submenu" before any children exist.
func (n *Node) HasSubmenu() bool {
	return n.ChildrenDisplay == "submenu" || n.SubmenuRef != "" || len(n.Children) > 0
}

// Count returns the number of nodes in the tree rooted at n, including n.
func (n *Node) Count() int {
	total := 1
	for _, c := range n.Children {
		total += c.Count()
	}
	return total
}

// FilterVisible returns the visible subset of items with separator runs
// collapsed: no two adjacent separators, and no separator as the first or
// last visible entry. Input order is preserved; the input is not modified.
func FilterVisible(items []*Node) []*Node {
	out := make([]*Node, 0, len(items))
	for _, it := range items {
		if !it.Visible {
			continue
		}
		if it.IsSeparator() {
			// Drop leading separators and collapse runs.
			if len(out) == 0 || out[len(out)-1].IsSeparator() {
				continue
			}
		}
		out = append(out, it)
	}
	// Drop a trailing separator.
	for len(out) > 0 && out[len(out)-1].IsSeparator() {
		out = out[:len(out)-1]
	}
	return out
}
