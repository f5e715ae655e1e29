package checkout

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/h2non/filetype"

	"github.com/rcowham/fossil-go/internal/deck"
	"github.com/rcowham/fossil-go/internal/errs"
)

// ChangeKind classifies one fv row's outcome, per §4.9.4's table.
type ChangeKind int

const (
	ChangeNone ChangeKind = iota
	ChangeAdded
	ChangeUpdated
	ChangeAddPropagated
	ChangeRMPropagated
	ChangeRM
	ChangeConflictRM
	ChangeConflictAddedUnmanaged
	ChangeMerged
	ChangeConflictMerged
	ChangeUpdatedBinary
	ChangeConflictSymlink
)

func (k ChangeKind) String() string {
	return [...]string{
		"None", "Added", "Updated", "AddPropagated", "RMPropagated", "RM",
		"ConflictRM", "ConflictAddedUnmanaged", "Merged", "ConflictMerged",
		"UpdatedBinary", "ConflictSymlink",
	}[k]
}

// UpdateResult reports the outcome for one path.
type UpdateResult struct {
	Pathname string
	Kind     ChangeKind
}

// fvRow is one row of the scratch table fv(fn, idv, idt, ridv, ridt,
// chnged, islinkv, islinkt, isexe, deleted, fnt) described by §4.9.4.
type fvRow struct {
	name             string
	ridv, ridt       int64 // 0 = absent from that side's effective F-list
	chnged           bool
	islinkv, islinkt bool
	isexe            bool
	localDeleted     bool
	inVfile          bool // true if a vfile row exists for this path at vid
	vfileRid         int64
}

// Update implements ckout_update: a three-way merge between the currently
// loaded checkin (vid) and a target checkin (tid), per §4.9.4.
func (e *Engine) Update(tid int64) ([]UpdateResult, error) {
	vid := e.checkoutVid()
	if _, err := e.ChangesScan(vid, ScanFlags{}); err != nil {
		return nil, err
	}

	vDeck, err := e.loadCheckin(vid)
	if err != nil {
		return nil, err
	}
	tDeck, err := e.loadCheckin(tid)
	if err != nil {
		return nil, err
	}
	vFiles, err := vDeck.EffectiveFiles()
	if err != nil {
		return nil, err
	}
	tFiles, err := tDeck.EffectiveFiles()
	if err != nil {
		return nil, err
	}

	fv, err := e.buildFv(vid, vFiles, tFiles)
	if err != nil {
		return nil, err
	}

	confirmer := newStickyConfirmer(e.Confirm)
	var results []UpdateResult
	for _, row := range fv {
		kind, err := e.applyUpdateRow(row, confirmer)
		if err != nil {
			return nil, err
		}
		results = append(results, UpdateResult{Pathname: row.name, Kind: kind})
	}

	if err := e.rekeyVfileToTarget(vid, tid, fv, results); err != nil {
		return nil, err
	}

	if err := e.vvarSet("checkout", fmt.Sprintf("%d", tid)); err != nil {
		return nil, err
	}
	if err := e.clearMergeState(); err != nil {
		return nil, err
	}
	uuid, err := e.uuidOfRid(tid)
	if err != nil {
		return nil, err
	}
	if err := e.vvarSet("checkout-hash", uuid); err != nil {
		return nil, err
	}
	if err := e.WriteManifestFiles(tid, ""); err != nil {
		return nil, err
	}
	if err := e.StoreFingerprint(); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *Engine) buildFv(vid int64, vFiles, tFiles []deck.FCard) ([]fvRow, error) {
	byName := map[string]*fvRow{}
	order := []string{}
	ensure := func(name string) *fvRow {
		if r, ok := byName[name]; ok {
			return r
		}
		r := &fvRow{name: name}
		byName[name] = r
		order = append(order, name)
		return r
	}
	for _, f := range vFiles {
		if f.Deleted {
			continue
		}
		r := ensure(f.Name)
		rid, err := e.ridOfUUID(f.UUID)
		if err != nil {
			return nil, err
		}
		r.ridv = rid
		r.islinkv = f.Perm == "l"
	}
	for _, f := range tFiles {
		if f.Deleted {
			continue
		}
		r := ensure(f.Name)
		rid, err := e.ridOfUUID(f.UUID)
		if err != nil {
			return nil, err
		}
		r.ridt = rid
		r.islinkt = f.Perm == "l"
		r.isexe = f.Perm == "x"
	}

	rows, err := e.DB.Raw().Query(
		fmt.Sprintf("SELECT pathname, chnged, deleted, rid FROM %s.vfile WHERE vid=?", e.Schema), vid)
	if err != nil {
		return nil, errs.Wrap(errs.DB, err, "load vfile for update")
	}
	defer rows.Close()
	for rows.Next() {
		var pathname string
		var chnged, deleted int
		var vfileRid int64
		if err := rows.Scan(&pathname, &chnged, &deleted, &vfileRid); err != nil {
			return nil, errs.Wrap(errs.DB, err, "scan vfile row for update")
		}
		r := ensure(pathname)
		r.chnged = chnged != 0
		r.localDeleted = deleted != 0
		r.inVfile = true
		r.vfileRid = vfileRid
	}

	out := make([]fvRow, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, nil
}

func (e *Engine) applyUpdateRow(row fvRow, confirmer *stickyConfirmer) (ChangeKind, error) {
	full := filepath.Join(e.RootDir, row.name)

	switch {
	case row.localDeleted:
		return ChangeRMPropagated, nil

	case row.ridv == 0 && row.ridt != 0 && !row.inVfile:
		if _, err := os.Lstat(full); err == nil {
			ans := confirmer.ask(EventOverwriteUnmanagedFile, row.name)
			if ans != AnswerYes {
				return ChangeConflictAddedUnmanaged, nil
			}
		}
		if err := e.writeFromRid(full, row.ridt, row.isexe, row.islinkt); err != nil {
			return ChangeNone, err
		}
		return ChangeAdded, nil

	case row.ridv == 0 && row.ridt == 0 && row.inVfile && row.vfileRid == 0:
		// locally added, not yet committed, and target doesn't add it either
		return ChangeAddPropagated, nil

	case !row.chnged && row.ridv != row.ridt && row.ridt != 0:
		if err := e.writeFromRid(full, row.ridt, row.isexe, row.islinkt); err != nil {
			return ChangeNone, err
		}
		return ChangeUpdated, nil

	case row.ridv != 0 && row.ridt == 0 && row.chnged:
		// kept on disk; rekeyVfileToTarget drops its vfile row since it
		// has no place in tid's fresh F-set.
		return ChangeConflictRM, nil

	case row.ridv != 0 && row.ridt == 0 && !row.chnged:
		if err := os.Remove(full); err == nil {
			removeEmptyDirUpward(filepath.Dir(full), e.RootDir)
		}
		return ChangeRM, nil

	case row.ridv == row.ridt && !row.chnged:
		return ChangeNone, nil

	case row.chnged && row.ridv != row.ridt && row.ridt != 0:
		return e.threeWayMerge(row, full)

	default:
		return ChangeNone, nil
	}
}

func (e *Engine) writeFromRid(full string, rid int64, isExec, isLink bool) error {
	content, err := e.Blobs.Get(rid)
	if err != nil {
		return err
	}
	return writeWorkingFile(full, content, isExec, isLink)
}

func (e *Engine) threeWayMerge(row fvRow, full string) (ChangeKind, error) {
	if row.islinkv || row.islinkt {
		return ChangeConflictSymlink, nil
	}
	pivot, err := e.Blobs.Get(row.ridv)
	if err != nil {
		return ChangeNone, err
	}
	local, err := os.ReadFile(full)
	if err != nil {
		return ChangeNone, errs.Wrap(errs.IO, err, "read local %s", full)
	}
	target, err := e.Blobs.Get(row.ridt)
	if err != nil {
		return ChangeNone, err
	}

	if looksBinary(pivot) || looksBinary(local) || looksBinary(target) {
		if err := writeWorkingFile(full, target, row.isexe, false); err != nil {
			return ChangeNone, err
		}
		return ChangeUpdatedBinary, nil
	}

	merged, conflicts := merge3(pivot, local, target)
	if err := writeWorkingFile(full, merged, row.isexe, false); err != nil {
		return ChangeNone, err
	}
	if conflicts > 0 {
		return ChangeConflictMerged, nil
	}
	return ChangeMerged, nil
}

func looksBinary(data []byte) bool {
	head := data
	if len(head) > 261 {
		head = head[:261]
	}
	if filetype.IsImage(head) || filetype.IsVideo(head) || filetype.IsArchive(head) || filetype.IsAudio(head) {
		return true
	}
	for _, b := range head {
		if b == 0 {
			return true
		}
	}
	return false
}

// rekeyVfileToTarget replaces the old vid's vfile rows with fresh rows
// keyed to tid, carrying forward uncommitted adds (ADD_PROPAGATED) and
// marking merge/conflict outcomes as locally changed.
func (e *Engine) rekeyVfileToTarget(vid, tid int64, fv []fvRow, results []UpdateResult) error {
	if _, err := e.DB.Raw().Exec(fmt.Sprintf("DELETE FROM %s.vfile WHERE vid=?", e.Schema), vid); err != nil {
		return errs.Wrap(errs.DB, err, "clear old vid vfile rows")
	}
	if err := e.PopulateVfile(tid); err != nil {
		return err
	}

	kindByName := make(map[string]ChangeKind, len(results))
	for _, r := range results {
		kindByName[r.Pathname] = r.Kind
	}
	for _, row := range fv {
		switch kindByName[row.name] {
		case ChangeAddPropagated:
			if _, err := e.DB.Raw().Exec(
				fmt.Sprintf(`INSERT OR IGNORE INTO %s.vfile(vid, rid, mtime, size, chnged, deleted, pathname) VALUES (?, 0, 0, -1, 1, 0, ?)`, e.Schema),
				tid, row.name); err != nil {
				return errs.Wrap(errs.DB, err, "carry forward added file %s", row.name)
			}
		case ChangeMerged, ChangeConflictMerged, ChangeUpdatedBinary, ChangeConflictRM:
			if _, err := e.DB.Raw().Exec(
				fmt.Sprintf("UPDATE %s.vfile SET chnged=1 WHERE vid=? AND pathname=?", e.Schema),
				tid, row.name); err != nil {
				return errs.Wrap(errs.DB, err, "mark %s changed after update", row.name)
			}
		}
	}
	return nil
}

