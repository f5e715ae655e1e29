package checkout

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rcowham/fossil-go/internal/blobstore"
	"github.com/rcowham/fossil-go/internal/deck"
	"github.com/rcowham/fossil-go/internal/errs"
)

// CommitOptions configures Commit.
type CommitOptions struct {
	Message        string
	User           string
	Branch         string // non-empty starts (or stays on) this branch
	GenerateRCards bool
}

// CommitReport summarizes what Commit saved.
type CommitReport struct {
	Rid  int64
	UUID string
}

// Commit implements the derive()+save() half of §4.5.3/§4.9.2: build a
// child checkin deck from the checkin currently loaded into this checkout,
// fold in every pending vfile add/edit/delete, save and crosslink the
// result, then rekey vfile onto the new checkin so a subsequent
// ChangesScan sees a clean tree. Mirrors the "Add-and-commit" testable
// property's expected shape (new deck, P=old parent, one F-card per
// pending file).
func (e *Engine) Commit(opt CommitOptions) (*CommitReport, error) {
	if e.Crosslinks == nil {
		return nil, errs.New(errs.Misuse, "commit: no crosslinker wired into this Engine")
	}
	vid := e.checkoutVid()
	if vid == 0 {
		return nil, errs.New(errs.Misuse, "commit: no checkout loaded")
	}

	if err := e.DB.Begin(); err != nil {
		return nil, err
	}
	commit := false
	defer func() {
		if !commit {
			e.DB.RequestRollback()
		}
		e.DB.End()
	}()

	d, err := e.loadCheckin(vid)
	if err != nil {
		return nil, err
	}
	if err := d.Derive(); err != nil {
		return nil, err
	}
	d.U = opt.User
	d.C = opt.Message
	d.D = julianNow()
	if opt.Branch != "" {
		d.Tcards = append(d.Tcards, deck.TCard{Kind: '+', Name: "sym-" + opt.Branch, UUID: "*"})
		d.Tcards = append(d.Tcards, deck.TCard{Kind: '*', Name: "branch", Value: opt.Branch, UUID: "*"})
	}

	rows, err := e.DB.Raw().Query(
		fmt.Sprintf("SELECT id, rid, pathname, deleted, chnged, isexe, islink FROM %s.vfile WHERE vid=?", e.Schema), vid)
	if err != nil {
		return nil, errs.Wrap(errs.DB, err, "load vfile rows for commit")
	}
	type pending struct {
		id, rid        int64
		pathname       string
		deleted        bool
		chnged         int
		isExec, isLink bool
	}
	var rs []pending
	for rows.Next() {
		var p pending
		var deletedI, isExecI, isLinkI int
		if err := rows.Scan(&p.id, &p.rid, &p.pathname, &deletedI, &p.chnged, &isExecI, &isLinkI); err != nil {
			rows.Close()
			return nil, errs.Wrap(errs.DB, err, "scan vfile row for commit")
		}
		p.deleted, p.isExec, p.isLink = deletedI != 0, isExecI != 0, isLinkI != 0
		rs = append(rs, p)
	}
	rows.Close()

	newRidByPath := map[string]int64{}
	var deletedPaths []string
	for _, p := range rs {
		if p.deleted {
			if err := d.FSet(p.pathname, "", ""); err != nil {
				return nil, err
			}
			deletedPaths = append(deletedPaths, p.pathname)
			continue
		}
		if p.rid != 0 && p.chnged == 0 {
			continue // unchanged: already present via the derived parent F-list
		}
		full := filepath.Join(e.RootDir, p.pathname)
		content, err := os.ReadFile(full)
		if err != nil {
			return nil, errs.Wrap(errs.IO, err, "read %s for commit", full)
		}
		rid, uuid, err := e.Blobs.Put(content, blobstore.PutOptions{})
		if err != nil {
			return nil, err
		}
		perm := ""
		if p.isLink {
			perm = "l"
		} else if p.isExec {
			perm = "x"
		}
		if err := d.FSet(p.pathname, uuid, perm); err != nil {
			return nil, err
		}
		newRidByPath[p.pathname] = rid
	}

	if err := d.Unshuffle(false); err != nil {
		return nil, err
	}
	if opt.GenerateRCards && len(d.Fcards) > 0 {
		rcard, err := deck.RCardWithContent(d.Fcards, func(uuid string) ([]byte, error) {
			rid, err := e.ridOfUUID(uuid)
			if err != nil {
				return nil, err
			}
			return e.Blobs.Get(rid)
		})
		if err != nil {
			return nil, err
		}
		d.R = rcard
	} else if len(d.Fcards) == 0 {
		d.R = emptyFileListRCard
	}

	data, err := d.Bytes()
	if err != nil {
		return nil, err
	}
	rid, uuid, err := e.Blobs.Put(data, blobstore.PutOptions{})
	if err != nil {
		return nil, err
	}
	if err := e.Crosslinks.Crosslink(rid, d); err != nil {
		return nil, err
	}

	if err := e.rekeyVfileAfterCommit(vid, rid, newRidByPath, deletedPaths); err != nil {
		return nil, err
	}
	if err := e.vvarSet("checkout", fmt.Sprintf("%d", rid)); err != nil {
		return nil, err
	}
	if err := e.vvarSet("checkout-hash", uuid); err != nil {
		return nil, err
	}

	if err := e.Blobs.VerifyPending(); err != nil {
		return nil, err
	}

	commit = true
	return &CommitReport{Rid: rid, UUID: uuid}, nil
}

// emptyFileListRCard is the MD5 of the empty string, the only legal R-value
// for a zero-F-card checkin (§4.5.2).
const emptyFileListRCard = "d41d8cd98f00b204e9800998ecf8427e"

// rekeyVfileAfterCommit folds the just-saved content back into vfile: drop
// rows for paths the commit deleted, and for every path the commit wrote
// new content for, point its row at the new rid with chnged cleared. vid
// itself is renamed to the new checkin's rid for every surviving row so a
// later ChangesScan walks a tree that matches what was just saved.
func (e *Engine) rekeyVfileAfterCommit(vid, newVid int64, newRidByPath map[string]int64, deletedPaths []string) error {
	for _, p := range deletedPaths {
		if _, err := e.DB.Raw().Exec(
			fmt.Sprintf("DELETE FROM %s.vfile WHERE vid=? AND pathname=?", e.Schema), vid, p); err != nil {
			return errs.Wrap(errs.DB, err, "drop committed deletion %s", p)
		}
	}
	for path, rid := range newRidByPath {
		if _, err := e.DB.Raw().Exec(
			fmt.Sprintf("UPDATE %s.vfile SET rid=?, chnged=0, origname=NULL WHERE vid=? AND pathname=?", e.Schema),
			rid, vid, path); err != nil {
			return errs.Wrap(errs.DB, err, "update committed vfile row %s", path)
		}
	}
	if _, err := e.DB.Raw().Exec(
		fmt.Sprintf("UPDATE %s.vfile SET vid=? WHERE vid=?", e.Schema), newVid, vid); err != nil {
		return errs.Wrap(errs.DB, err, "rekey vfile to new checkin")
	}
	return nil
}

func julianNow() float64 {
	return float64(time.Now().Unix())/86400.0 + 2440587.5
}
