package symbol

import (
	"fmt"

	"github.com/emicklei/dot"

	"github.com/rcowham/fossil-go/internal/errs"
)

// History renders the ancestor graph reachable (by primary and merge
// parent edges) from rid as a Graphviz graph, in the same shape the
// teacher's gitgraph tool builds from git commits: one dot.Node per
// checkin, solid edges for primary parentage, labeled "m" edges for
// merge parents.
func (r *Resolver) History(rid int64, maxCommits int) (*dot.Graph, error) {
	g := dot.NewGraph(dot.Directed)
	nodes := make(map[int64]dot.Node)

	nodeFor := func(id int64) (dot.Node, error) {
		if n, ok := nodes[id]; ok {
			return n, nil
		}
		comment, err := r.shortComment(id)
		if err != nil {
			return dot.Node{}, err
		}
		label := fmt.Sprintf("rid:%d %s", id, comment)
		n := g.Node(label)
		nodes[id] = n
		return n, nil
	}

	visited := map[int64]bool{}
	queue := []int64{rid}
	count := 0
	for len(queue) > 0 && (maxCommits <= 0 || count < maxCommits) {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		visited[cur] = true
		count++

		curNode, err := nodeFor(cur)
		if err != nil {
			return nil, err
		}

		parents, err := r.parentsOf(cur)
		if err != nil {
			return nil, err
		}
		for _, p := range parents {
			pNode, err := nodeFor(p.rid)
			if err != nil {
				return nil, err
			}
			label := ""
			if !p.isPrimary {
				label = "m"
			}
			g.Edge(pNode, curNode, label)
			queue = append(queue, p.rid)
		}
	}
	return g, nil
}

type parentEdge struct {
	rid       int64
	isPrimary bool
}

func (r *Resolver) parentsOf(rid int64) ([]parentEdge, error) {
	rows, err := r.db.Raw().Query(
		fmt.Sprintf("SELECT pid, isprim FROM %s.plink WHERE cid=?", r.schema), rid)
	if err != nil {
		return nil, errs.Wrap(errs.DB, err, "lookup parents rid=%d", rid)
	}
	defer rows.Close()
	var out []parentEdge
	for rows.Next() {
		var pid int64
		var isprim int
		if err := rows.Scan(&pid, &isprim); err != nil {
			return nil, errs.Wrap(errs.DB, err, "scan parent edge")
		}
		out = append(out, parentEdge{rid: pid, isPrimary: isprim != 0})
	}
	return out, nil
}

func (r *Resolver) shortComment(rid int64) (string, error) {
	var comment string
	err := r.db.Raw().QueryRow(
		fmt.Sprintf("SELECT comment FROM %s.event WHERE rid=?", r.schema), rid).Scan(&comment)
	if err != nil {
		return "", nil
	}
	if len(comment) > 40 {
		comment = comment[:40]
	}
	return comment, nil
}
