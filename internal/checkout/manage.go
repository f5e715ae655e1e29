package checkout

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"

	"github.com/rcowham/fossil-go/internal/errs"
)

var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
}

func isReservedName(base string) bool {
	u := strings.ToUpper(base)
	if reservedNames[u] {
		return true
	}
	for _, prefix := range []string{"COM", "LPT"} {
		if strings.HasPrefix(u, prefix) && len(u) == len(prefix)+1 && u[len(prefix)] >= '0' && u[len(prefix)] <= '9' {
			return true
		}
	}
	return false
}

// ManageOptions configures Manage.
type ManageOptions struct {
	Filename     string
	IgnoreGlobs  []string
	ShouldManage func(relPath string) bool // optional caller predicate

	Added, Updated, Skipped int
}

// Manage implements manage(): recursively registers files under
// opt.Filename (relative to the checkout root) as managed, per §4.9.2.
func (e *Engine) Manage(opt *ManageOptions) error {
	vid := e.checkoutVid()
	globs := compileGlobs(opt.IgnoreGlobs)

	tree := newPathTree(e.DB.Collation() != "")
	existing, err := e.DB.Raw().Query(fmt.Sprintf("SELECT pathname FROM %s.vfile WHERE vid=?", e.Schema), vid)
	if err != nil {
		return errs.Wrap(errs.DB, err, "load existing vfile paths")
	}
	for existing.Next() {
		var pathname string
		if err := existing.Scan(&pathname); err != nil {
			existing.Close()
			return errs.Wrap(errs.DB, err, "scan existing vfile path")
		}
		tree.add(pathname)
	}
	existing.Close()

	abs := filepath.Join(e.RootDir, opt.Filename)
	return filepath.Walk(abs, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return errs.Wrap(errs.IO, err, "walk %s", path)
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(e.RootDir, path)
		if err != nil {
			return errs.Wrap(errs.IO, err, "relativize %s", path)
		}
		rel = filepath.ToSlash(rel)
		if err := validateSimplePathname(rel); err != nil {
			opt.Skipped++
			return nil
		}
		if matchesAny(globs, rel) {
			opt.Skipped++
			return nil
		}
		if opt.ShouldManage != nil && !opt.ShouldManage(rel) {
			opt.Skipped++
			return nil
		}
		if other, collides := tree.collidingFile(rel); collides {
			e.Logger.Warnf("skipping %s: collides with already-managed %s under this checkout's collation", rel, other)
			opt.Skipped++
			return nil
		}
		tree.add(rel)

		var existingID int64
		err = e.DB.Raw().QueryRow(
			fmt.Sprintf("SELECT id FROM %s.vfile WHERE vid=? AND pathname=?", e.Schema), vid, rel).Scan(&existingID)
		if err == nil {
			if _, err := e.DB.Raw().Exec(
				fmt.Sprintf("UPDATE %s.vfile SET mtime=?, deleted=0 WHERE id=?", e.Schema),
				info.ModTime().Unix(), existingID); err != nil {
				return errs.Wrap(errs.DB, err, "update managed file %s", rel)
			}
			opt.Updated++
			return nil
		}
		if _, err := e.DB.Raw().Exec(
			fmt.Sprintf(`INSERT INTO %s.vfile(vid, rid, mtime, size, chnged, deleted, pathname) VALUES (?, 0, ?, ?, 1, 0, ?)`, e.Schema),
			vid, info.ModTime().Unix(), info.Size(), rel); err != nil {
			return errs.Wrap(errs.DB, err, "insert managed file %s", rel)
		}
		opt.Added++
		return nil
	})
}

// UnmanageOptions configures Unmanage.
type UnmanageOptions struct {
	Filename string
}

// Unmanage implements unmanage(): marks matching rows deleted, hard-
// deleting any that were never committed.
func (e *Engine) Unmanage(opt *UnmanageOptions) error {
	vid := e.checkoutVid()
	rel := filepath.ToSlash(opt.Filename)
	if _, err := e.DB.Raw().Exec(
		fmt.Sprintf("DELETE FROM %s.vfile WHERE vid=? AND rid=0 AND (pathname=? OR pathname GLOB ?)", e.Schema),
		vid, rel, rel+"/*"); err != nil {
		return errs.Wrap(errs.DB, err, "hard-delete unmanaged uncommitted rows")
	}
	if _, err := e.DB.Raw().Exec(
		fmt.Sprintf("UPDATE %s.vfile SET deleted=1 WHERE vid=? AND (pathname=? OR pathname GLOB ?)", e.Schema),
		vid, rel, rel+"/*"); err != nil {
		return errs.Wrap(errs.DB, err, "mark unmanaged rows deleted")
	}
	return nil
}

// RevertOptions configures Revert.
type RevertOptions struct {
	Filename string
	OnRevert func(pathname string) bool // return false to veto this revert
}

// Revert implements revert(): undoes a pending add, or restores on-disk
// content to the committed blob, per §4.9.2.
func (e *Engine) Revert(opt *RevertOptions) error {
	vid := e.checkoutVid()
	rel := filepath.ToSlash(opt.Filename)
	pattern := rel + "/*"
	if rel == "" || rel == "." {
		pattern = "*"
	}
	rows, err := e.DB.Raw().Query(
		fmt.Sprintf("SELECT id, rid, pathname, isexe, islink FROM %s.vfile WHERE vid=? AND (pathname=? OR pathname GLOB ?)", e.Schema),
		vid, rel, pattern)
	if err != nil {
		return errs.Wrap(errs.DB, err, "revert lookup")
	}
	type r struct {
		id, rid        int64
		pathname       string
		isExec, isLink bool
	}
	var targets []r
	for rows.Next() {
		var t r
		var isExecI, isLinkI int
		if err := rows.Scan(&t.id, &t.rid, &t.pathname, &isExecI, &isLinkI); err != nil {
			rows.Close()
			return errs.Wrap(errs.DB, err, "scan revert row")
		}
		t.isExec, t.isLink = isExecI != 0, isLinkI != 0
		targets = append(targets, t)
	}
	rows.Close()

	dirs := map[string]bool{}
	for _, t := range targets {
		if opt.OnRevert != nil && !opt.OnRevert(t.pathname) {
			continue
		}
		if t.rid == 0 {
			if _, err := e.DB.Raw().Exec(fmt.Sprintf("DELETE FROM %s.vfile WHERE id=?", e.Schema), t.id); err != nil {
				return errs.Wrap(errs.DB, err, "revert drop added row")
			}
			continue
		}
		content, err := e.Blobs.Get(t.rid)
		if err != nil {
			return err
		}
		full := filepath.Join(e.RootDir, t.pathname)
		if err := writeWorkingFile(full, content, t.isExec, t.isLink); err != nil {
			return err
		}
		if _, err := e.DB.Raw().Exec(
			fmt.Sprintf("UPDATE %s.vfile SET chnged=0, deleted=0, origname=NULL WHERE id=?", e.Schema), t.id); err != nil {
			return errs.Wrap(errs.DB, err, "clear revert flags")
		}
		dirs[filepath.Dir(full)] = true
	}
	for d := range dirs {
		removeEmptyDirUpward(d, e.RootDir)
	}
	return nil
}

func compileGlobs(patterns []string) []glob.Glob {
	var out []glob.Glob
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			continue
		}
		out = append(out, g)
	}
	return out
}

func matchesAny(globs []glob.Glob, path string) bool {
	for _, g := range globs {
		if g.Match(path) {
			return true
		}
	}
	return false
}

func validateSimplePathname(p string) error {
	if p == "" || strings.HasPrefix(p, "/") {
		return errs.New(errs.Misuse, "not a simple pathname: %q", p)
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." || part == "." {
			return errs.New(errs.Misuse, "pathname contains a relative component: %q", p)
		}
		base := part
		if i := strings.LastIndexByte(base, '.'); i >= 0 {
			base = base[:i]
		}
		if isReservedName(base) {
			return errs.New(errs.Misuse, "pathname uses a reserved name: %q", p)
		}
		if strings.EqualFold(part, ".fslckout") || strings.EqualFold(part, "_FOSSIL_") {
			return errs.New(errs.Misuse, "pathname collides with the checkout marker: %q", p)
		}
	}
	return nil
}

// removeEmptyDirUpward rmdirs dir and any now-empty ancestor up to (but
// not including) root, matching repo_ckout's best-effort directory
// cleanup.
func removeEmptyDirUpward(dir, root string) {
	root = filepath.Clean(root)
	for {
		dir = filepath.Clean(dir)
		if dir == root || !strings.HasPrefix(dir, root) {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if os.Remove(dir) != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
