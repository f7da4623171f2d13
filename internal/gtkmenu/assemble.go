package gtkmenu

import (
	"fmt"

	"github.com/gmenu/gmenu/internal/menu"
)

// Ref points at another row group in the same Start response.
type Ref struct {
	Group uint32
	Index uint32
}

// Key returns the "group:index" form used to index rows.
func (r Ref) Key() string {
	return fmt.Sprintf("%d:%d", r.Group, r.Index)
}

// Entry is one row of the flat-group protocol. A row either carries a label
// (a real item, leaf or submenu) or a section reference to splice in place.
type Entry struct {
	Label    string
	Action   string
	HasLabel bool
	Section  *Ref
	Submenu  *Ref
}

// Rows is the full Start response indexed by "group:index".
type Rows map[string][]Entry

// Assemble builds a menu tree from a flat-group response, expanding from key
// "0:0". Section references are spliced in place, with a separator inserted
// before a non-empty later section. Submenu references whose rows are present
// are expanded recursively; references into groups the response does not
// carry stay as SubmenuRef for on-demand resolution.
func Assemble(rows Rows) *menu.Node {
	root := menu.NewNode(0)
	root.Children = assembleList(rows, "0:0", map[string]bool{})
	return root
}

func assembleList(rows Rows, key string, visiting map[string]bool) []*menu.Node {
	if visiting[key] {
		return nil
	}
	visiting[key] = true
	defer delete(visiting, key)

	var out []*menu.Node
	for _, entry := range rows[key] {
		if entry.Section != nil {
			spliced := assembleList(rows, entry.Section.Key(), visiting)
			if len(out) > 0 && len(spliced) > 0 {
				sep := menu.NewNode(0)
				sep.Type = menu.TypeSeparator
				out = append(out, sep)
			}
			out = append(out, spliced...)
			continue
		}

		if !entry.HasLabel {
			continue
		}

		node := menu.NewNode(0)
		node.Label = entry.Label
		node.Action = entry.Action

		if entry.Submenu != nil {
			subKey := entry.Submenu.Key()
			node.ChildrenDisplay = "submenu"
			if _, ok := rows[subKey]; ok {
				node.Children = assembleList(rows, subKey, visiting)
			} else {
				node.SubmenuRef = subKey
			}
		}

		out = append(out, node)
	}
	return out
}
