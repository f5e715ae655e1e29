package crosslink

import (
	"database/sql"
	"fmt"

	"github.com/rcowham/fossil-go/internal/deck"
	"github.com/rcowham/fossil-go/internal/errs"
)

func (cl *Crosslinker) crosslinkCheckin(rid int64, dk *deck.Deck) error {
	if err := cl.upsertEvent(rid, "ci", dk.D, dk.U); err != nil {
		return err
	}

	parentRids := make([]int64, 0, len(dk.P))
	for i, puuid := range dk.P {
		prid, _, isPhantom, found, err := lookupBlobByUUIDRaw(cl.db, cl.schema, puuid)
		if err != nil {
			return err
		}
		if !found {
			prid, err = cl.blobs.PutPhantom(puuid)
			if err != nil {
				return err
			}
			isPhantom = true
		}
		if isPhantom {
			if err := cl.recordOrphan(prid, rid); err != nil {
				return err
			}
		}
		parentRids = append(parentRids, prid)
		stmt, err := cl.db.Prepare(fmt.Sprintf("INSERT OR REPLACE INTO %s.plink(cid, pid, isprim) VALUES (?, ?, ?)", cl.schema))
		if err != nil {
			return err
		}
		_, err = stmt.Raw().Exec(rid, prid, boolToInt(i == 0))
		stmt.Release()
		if err != nil {
			return errs.Wrap(errs.DB, err, "insert plink cid=%d pid=%d", rid, prid)
		}
	}

	files, err := dk.EffectiveFiles()
	if err != nil {
		return err
	}
	for _, f := range files {
		fnid, err := cl.filenameID(f.Name)
		if err != nil {
			return err
		}
		fid, err := cl.resolveFid(rid, f.UUID)
		if err != nil {
			return err
		}
		for pi, prid := range parentRids {
			pfnid, err := cl.previousFnid(prid, f.Name)
			if err != nil {
				return err
			}
			stmt, err := cl.db.Prepare(fmt.Sprintf("INSERT INTO %s.mlink(mid, pid, fid, fnid, pfnid, mperm, isaux) VALUES (?, ?, ?, ?, ?, ?, ?)", cl.schema))
			if err != nil {
				return err
			}
			_, err = stmt.Raw().Exec(rid, prid, fid, fnid, pfnid, f.Perm, boolToInt(pi > 0))
			stmt.Release()
			if err != nil {
				return errs.Wrap(errs.DB, err, "insert mlink mid=%d pid=%d", rid, prid)
			}
		}
		if len(parentRids) == 0 {
			stmt, err := cl.db.Prepare(fmt.Sprintf("INSERT INTO %s.mlink(mid, pid, fid, fnid, pfnid, mperm, isaux) VALUES (?, 0, ?, ?, 0, ?, 0)", cl.schema))
			if err != nil {
				return err
			}
			_, err = stmt.Raw().Exec(rid, fid, fnid, f.Perm)
			stmt.Release()
			if err != nil {
				return errs.Wrap(errs.DB, err, "insert root mlink mid=%d", rid)
			}
		}
	}

	if err := cl.applyPropagatingParentTags(rid, parentRids); err != nil {
		return err
	}
	if err := cl.applyTagCards(rid, dk.Tcards); err != nil {
		return err
	}
	return cl.recomputeLeaf(rid, parentRids)
}

// previousFnid looks up the fnid a file named name had under prid, for the
// mlink's pfnid column. Returns 0 (no previous entry) if prid has no mlink
// row for that filename.
func (cl *Crosslinker) previousFnid(prid int64, name string) (int64, error) {
	fnid, err := cl.filenameID(name)
	if err != nil {
		return 0, err
	}
	var pfnid int64
	err = cl.db.Raw().QueryRow(
		fmt.Sprintf("SELECT fnid FROM %s.mlink WHERE mid=? AND fnid=?", cl.schema), prid, fnid).Scan(&pfnid)
	if err != nil {
		return 0, nil
	}
	return pfnid, nil
}

// recomputeLeaf maintains leaf(rid): a checkin is a leaf exactly when it
// has no same-branch child. A parent only drops out of leaf when rid's
// branch tag matches its own, so a checkin that gains a child only on a
// different branch (a fork point) stays a leaf on its own branch.
func (cl *Crosslinker) recomputeLeaf(rid int64, parentRids []int64) error {
	insert, err := cl.db.Prepare(fmt.Sprintf("INSERT OR IGNORE INTO %s.leaf(rid) VALUES (?)", cl.schema))
	if err != nil {
		return err
	}
	_, err = insert.Raw().Exec(rid)
	insert.Release()
	if err != nil {
		return errs.Wrap(errs.DB, err, "insert leaf rid=%d", rid)
	}
	for _, p := range parentRids {
		sameBranch, err := cl.sameBranch(p, rid)
		if err != nil {
			return err
		}
		if !sameBranch {
			continue
		}
		del, err := cl.db.Prepare(fmt.Sprintf("DELETE FROM %s.leaf WHERE rid=?", cl.schema))
		if err != nil {
			return err
		}
		_, err = del.Raw().Exec(p)
		del.Release()
		if err != nil {
			return errs.Wrap(errs.DB, err, "delete leaf rid=%d", p)
		}
	}
	return nil
}

// sameBranch reports whether a and b carry the same branch tag value in
// tagxref. Neither having a branch tag yet counts as the same (implicit
// trunk) branch.
func (cl *Crosslinker) sameBranch(a, b int64) (bool, error) {
	abranch, err := cl.branchOf(a)
	if err != nil {
		return false, err
	}
	bbranch, err := cl.branchOf(b)
	if err != nil {
		return false, err
	}
	return abranch == bbranch, nil
}

func (cl *Crosslinker) branchOf(rid int64) (string, error) {
	var branch string
	err := cl.db.Raw().QueryRow(
		fmt.Sprintf(`SELECT value FROM %s.tagxref WHERE rid=? AND tagname='branch'`, cl.schema), rid).Scan(&branch)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errs.Wrap(errs.DB, err, "lookup branch for rid=%d", rid)
	}
	return branch, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
