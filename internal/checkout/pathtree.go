package checkout

import "strings"

// pathNode is a directory-tree node recording which pathnames Manage has
// already seen, so a recursive add can catch two paths that collide under
// the repository's active filename collation (e.g. README.txt vs
// readme.txt on a case-insensitive checkout) even though they're distinct
// bytes. Adapted from a directory-reconciliation tree node shape, trimmed
// to the add/lookup pair Manage needs.
type pathNode struct {
	name            string
	isFile          bool
	caseInsensitive bool
	children        []*pathNode
}

func newPathTree(caseInsensitive bool) *pathNode {
	return &pathNode{caseInsensitive: caseInsensitive}
}

func (n *pathNode) sameName(a, b string) bool {
	if n.caseInsensitive {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// add records path as a tracked file.
func (n *pathNode) add(path string) {
	n.addParts(strings.Split(path, "/"))
}

func (n *pathNode) addParts(parts []string) {
	if len(parts) == 0 {
		return
	}
	for _, c := range n.children {
		if n.sameName(c.name, parts[0]) {
			if len(parts) == 1 {
				c.isFile = true
				return
			}
			c.addParts(parts[1:])
			return
		}
	}
	child := &pathNode{name: parts[0], caseInsensitive: n.caseInsensitive, isFile: len(parts) == 1}
	n.children = append(n.children, child)
	if len(parts) > 1 {
		child.addParts(parts[1:])
	}
}

// collidingFile returns the already-tracked pathname that collides with
// path under the active collation, if one exists and differs from path
// itself.
func (n *pathNode) collidingFile(path string) (string, bool) {
	existing, found := n.findParts(strings.Split(path, "/"), "")
	if found && existing != path {
		return existing, true
	}
	return "", false
}

func (n *pathNode) findParts(parts []string, prefix string) (string, bool) {
	for _, c := range n.children {
		if n.sameName(c.name, parts[0]) {
			full := prefix + c.name
			if len(parts) == 1 {
				if c.isFile {
					return full, true
				}
				return "", false
			}
			return c.findParts(parts[1:], full+"/")
		}
	}
	return "", false
}
