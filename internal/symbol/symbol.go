// Package symbol implements §4.7: resolving a symbolic name (hash, "tip",
// "current", a tag, a date, "rid:N", ...) to a repository row id, plus an
// ancestor-graph export for visual debugging.
package symbol

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/rcowham/fossil-go/internal/dbkit"
	"github.com/rcowham/fossil-go/internal/errs"
)

// Resolver resolves symbols against one repository schema.
type Resolver struct {
	db     *dbkit.DB
	schema string

	// CheckoutRid, when non-zero, is the rid the current checkout has
	// loaded, used to resolve "current"/"prev"/"next".
	CheckoutRid int64
}

// New returns a Resolver bound to schema.
func New(db *dbkit.DB, schema string) *Resolver {
	return &Resolver{db: db, schema: schema}
}

// Resolve implements sym_to_rid. It takes no artifact-type filter; "tip"
// resolves to the newest checkin (event type 'ci').
func (r *Resolver) Resolve(s string) (int64, error) {
	switch {
	case s == "tip":
		return r.tip()
	case s == "current":
		return r.checkoutRelative(0)
	case s == "prev" || s == "previous":
		return r.checkoutRelative(-1)
	case s == "next":
		return r.checkoutRelative(1)
	case strings.HasPrefix(s, "date:"):
		return r.byDate(strings.TrimPrefix(s, "date:"))
	case strings.HasPrefix(s, "tag:"):
		return r.byTag(strings.TrimPrefix(s, "tag:"))
	case strings.HasPrefix(s, "root:"):
		inner, err := r.Resolve(strings.TrimPrefix(s, "root:"))
		if err != nil {
			return 0, err
		}
		return r.rootOfBranch(inner)
	case strings.HasPrefix(s, "merge-in:"):
		inner, err := r.Resolve(strings.TrimPrefix(s, "merge-in:"))
		if err != nil {
			return 0, err
		}
		return r.mergeInAncestor(inner)
	case strings.HasPrefix(s, "rid:"):
		n, err := strconv.ParseInt(strings.TrimPrefix(s, "rid:"), 10, 64)
		if err != nil {
			return 0, errs.Wrap(errs.Syntax, err, "bad rid symbol %q", s)
		}
		return n, nil
	case isISODate(s):
		return r.byDate(s)
	case isHexPrefix(s):
		return r.byHashPrefix(s)
	case isTagName(s):
		return r.byTag(s)
	default:
		return 0, errs.New(errs.UnknownResource, "cannot resolve symbol %q", s)
	}
}

func (r *Resolver) tip() (int64, error) {
	var rid int64
	err := r.db.Raw().QueryRow(
		fmt.Sprintf("SELECT rid FROM %s.event WHERE type='ci' ORDER BY mtime DESC, rowid DESC LIMIT 1", r.schema)).Scan(&rid)
	if err == sql.ErrNoRows {
		return 0, errs.New(errs.NotFound, "no checkins in repository")
	}
	if err != nil {
		return 0, errs.Wrap(errs.DB, err, "resolve tip")
	}
	return rid, nil
}

// checkoutRelative resolves "current" (dir=0), "prev" (dir=-1) or "next"
// (dir=1) against the resolver's CheckoutRid.
func (r *Resolver) checkoutRelative(dir int) (int64, error) {
	if r.CheckoutRid == 0 {
		return 0, errs.New(errs.NotACkout, "no checkout is open")
	}
	if dir == 0 {
		return r.CheckoutRid, nil
	}
	if dir < 0 {
		var pid int64
		err := r.db.Raw().QueryRow(
			fmt.Sprintf("SELECT pid FROM %s.plink WHERE cid=? AND isprim=1", r.schema), r.CheckoutRid).Scan(&pid)
		if err == sql.ErrNoRows {
			return 0, errs.New(errs.NotFound, "no primary parent of current checkout")
		}
		if err != nil {
			return 0, errs.Wrap(errs.DB, err, "resolve prev")
		}
		return pid, nil
	}
	var cid int64
	err := r.db.Raw().QueryRow(
		fmt.Sprintf(`SELECT cid FROM %s.plink p JOIN %s.event e ON e.rid=p.cid
			WHERE p.pid=? AND p.isprim=1 ORDER BY e.mtime ASC LIMIT 1`, r.schema, r.schema), r.CheckoutRid).Scan(&cid)
	if err == sql.ErrNoRows {
		return 0, errs.New(errs.NotFound, "no primary child of current checkout")
	}
	if err != nil {
		return 0, errs.Wrap(errs.DB, err, "resolve next")
	}
	return cid, nil
}

func (r *Resolver) byDate(iso string) (int64, error) {
	var rid int64
	err := r.db.Raw().QueryRow(
		fmt.Sprintf(`SELECT rid FROM %s.event WHERE mtime <= julianday(?) ORDER BY mtime DESC LIMIT 1`, r.schema), iso).Scan(&rid)
	if err == sql.ErrNoRows {
		return 0, errs.New(errs.NotFound, "no artifact at or before date %q", iso)
	}
	if err != nil {
		return 0, errs.Wrap(errs.DB, err, "resolve date %q", iso)
	}
	return rid, nil
}

func (r *Resolver) byTag(name string) (int64, error) {
	tagname := "sym-" + name
	collation := r.db.Collation()
	var rid int64
	err := r.db.Raw().QueryRow(
		fmt.Sprintf(`SELECT e.rid FROM %s.event e
			JOIN %s.tagxref t ON t.rid = e.rid
			WHERE t.tagname=? %s AND t.tagtype != 0
			ORDER BY e.mtime DESC LIMIT 30`, r.schema, r.schema, collation), tagname).Scan(&rid)
	if err == nil {
		return rid, nil
	}
	if err != sql.ErrNoRows {
		return 0, errs.Wrap(errs.DB, err, "resolve tag %q (recent scan)", name)
	}
	err = r.db.Raw().QueryRow(
		fmt.Sprintf(`SELECT rid FROM %s.tagxref WHERE tagname=? %s AND tagtype != 0 ORDER BY mtime DESC LIMIT 1`, r.schema, collation), tagname).Scan(&rid)
	if err == sql.ErrNoRows {
		return 0, errs.New(errs.NotFound, "no artifact tagged %q", name)
	}
	if err != nil {
		return 0, errs.Wrap(errs.DB, err, "resolve tag %q (indexed)", name)
	}
	return rid, nil
}

// rootOfBranch walks primary-parent edges back to the checkin that first
// introduced rid's branch tag.
func (r *Resolver) rootOfBranch(rid int64) (int64, error) {
	branch, err := r.branchOf(rid)
	if err != nil {
		return 0, err
	}
	cur := rid
	for {
		pid, err := r.primaryParent(cur)
		if err != nil {
			return cur, nil // cur has no parent; it is the root
		}
		pbranch, err := r.branchOf(pid)
		if err != nil {
			return cur, nil
		}
		if pbranch != branch {
			return cur, nil
		}
		cur = pid
	}
}

// mergeInAncestor returns the youngest ancestor of rid that sits on the
// branch rid's own branch diverged from.
func (r *Resolver) mergeInAncestor(rid int64) (int64, error) {
	origin, err := r.rootOfBranch(rid)
	if err != nil {
		return 0, err
	}
	return r.primaryParent(origin)
}

func (r *Resolver) branchOf(rid int64) (string, error) {
	var branch string
	err := r.db.Raw().QueryRow(
		fmt.Sprintf(`SELECT value FROM %s.tagxref WHERE rid=? AND tagname='branch'`, r.schema), rid).Scan(&branch)
	if err == sql.ErrNoRows {
		return "trunk", nil
	}
	if err != nil {
		return "", errs.Wrap(errs.DB, err, "lookup branch for rid=%d", rid)
	}
	return branch, nil
}

func (r *Resolver) primaryParent(rid int64) (int64, error) {
	var pid int64
	err := r.db.Raw().QueryRow(
		fmt.Sprintf("SELECT pid FROM %s.plink WHERE cid=? AND isprim=1", r.schema), rid).Scan(&pid)
	if err != nil {
		return 0, errs.New(errs.NotFound, "rid=%d has no primary parent", rid)
	}
	return pid, nil
}

func (r *Resolver) byHashPrefix(prefix string) (int64, error) {
	if len(prefix) == 40 || len(prefix) == 64 {
		var rid int64
		err := r.db.Raw().QueryRow(
			fmt.Sprintf("SELECT rid FROM %s.blob WHERE uuid=?", r.schema), prefix).Scan(&rid)
		if err == sql.ErrNoRows {
			return 0, errs.New(errs.NotFound, "no artifact with hash %q", prefix)
		}
		if err != nil {
			return 0, errs.Wrap(errs.DB, err, "resolve hash %q", prefix)
		}
		return rid, nil
	}

	rows, err := r.db.Raw().Query(
		fmt.Sprintf("SELECT rid FROM %s.blob WHERE uuid GLOB ?", r.schema), prefix+"*")
	if err != nil {
		return 0, errs.Wrap(errs.DB, err, "resolve hash prefix %q", prefix)
	}
	defer rows.Close()
	var matches []int64
	for rows.Next() {
		var rid int64
		if err := rows.Scan(&rid); err != nil {
			return 0, errs.Wrap(errs.DB, err, "scan hash prefix match")
		}
		matches = append(matches, rid)
	}
	switch len(matches) {
	case 0:
		return 0, errs.New(errs.NotFound, "no artifact matches hash prefix %q", prefix)
	case 1:
		return matches[0], nil
	default:
		return 0, errs.New(errs.Ambiguous, "hash prefix %q matches %d artifacts", prefix, len(matches))
	}
}

func isISODate(s string) bool {
	return len(s) >= 10 && s[4] == '-' && s[7] == '-'
}

func isHexPrefix(s string) bool {
	if len(s) < 4 || len(s) > 64 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

func isTagName(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !(c == '_' || c == '-' || c == '.' || c == '/' ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
			return false
		}
	}
	return true
}
