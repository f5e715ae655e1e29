package checkout

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rcowham/fossil-go/internal/errs"
)

// CkoutOptions configures Checkout.
type CkoutOptions struct {
	TargetRid int64
	DryRun    bool
	SetMtime  bool // synthesize mtime from the manifest mtime instead of wall clock

	ManifestMode string // "", "on", or a combination of "r","u","t"
}

// CkoutReport collects what Checkout did or would do.
type CkoutReport struct {
	Written []string
	Removed []string
}

// Checkout implements repo_ckout: a full extract of TargetRid into
// RootDir, per §4.9.3.
func (e *Engine) Checkout(opt CkoutOptions) (*CkoutReport, error) {
	report := &CkoutReport{}
	prevVid := e.checkoutVid()

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

	if prevVid != 0 {
		if _, err := e.ChangesScan(prevVid, ScanFlags{}); err != nil {
			return nil, err
		}
	}

	targetDeck, err := e.loadCheckin(opt.TargetRid)
	if err != nil {
		return nil, err
	}
	files, err := targetDeck.EffectiveFiles()
	if err != nil {
		return nil, err
	}

	confirmer := newStickyConfirmer(e.Confirm)
	newPaths := map[string]bool{}
	for _, f := range files {
		if f.Deleted {
			continue
		}
		newPaths[f.Name] = true
		full := filepath.Join(e.RootDir, f.Name)

		overwrite := true
		if info, statErr := os.Lstat(full); statErr == nil {
			_ = info
			modified, unmanaged, err := e.classifyExisting(prevVid, f.Name)
			if err != nil {
				return nil, err
			}
			if modified {
				ans := confirmer.ask(EventOverwriteModFile, f.Name)
				if ans == AnswerCancel {
					return nil, errs.New(errs.Break, "checkout cancelled by confirmer at %s", f.Name)
				}
				overwrite = ans == AnswerYes
			} else if unmanaged {
				ans := confirmer.ask(EventOverwriteUnmanagedFile, f.Name)
				if ans == AnswerCancel {
					return nil, errs.New(errs.Break, "checkout cancelled by confirmer at %s", f.Name)
				}
				overwrite = ans == AnswerYes
			}
		}

		if !overwrite {
			continue
		}
		rid, err := e.ridOfUUID(f.UUID)
		if err != nil {
			return nil, err
		}
		content, err := e.Blobs.Get(rid)
		if err != nil {
			return nil, err
		}
		if !opt.DryRun {
			isExec := f.Perm == "x"
			isLink := f.Perm == "l"
			if err := writeWorkingFile(full, content, isExec, isLink); err != nil {
				return nil, err
			}
			if opt.SetMtime {
				mtime, err := e.manifestMtime(opt.TargetRid, f.Name)
				if err == nil {
					setFileMtime(full, mtime)
				}
			}
		}
		report.Written = append(report.Written, f.Name)
	}

	if prevVid != 0 {
		oldRows, err := e.DB.Raw().Query(
			fmt.Sprintf("SELECT pathname, chnged FROM %s.vfile WHERE vid=? AND rid != 0", e.Schema), prevVid)
		if err != nil {
			return nil, errs.Wrap(errs.DB, err, "list old vfile rows")
		}
		var toRemove []string
		for oldRows.Next() {
			var pathname string
			var chnged int
			if err := oldRows.Scan(&pathname, &chnged); err != nil {
				oldRows.Close()
				return nil, errs.Wrap(errs.DB, err, "scan old vfile row")
			}
			if !newPaths[pathname] {
				ans := AnswerYes
				if chnged != 0 {
					ans = confirmer.ask(EventRemoveModUnmanagedFile, pathname)
				}
				if ans == AnswerYes {
					toRemove = append(toRemove, pathname)
				}
			}
		}
		oldRows.Close()
		for _, pathname := range toRemove {
			full := filepath.Join(e.RootDir, pathname)
			if !opt.DryRun {
				if err := os.Remove(full); err == nil {
					removeEmptyDirUpward(filepath.Dir(full), e.RootDir)
				}
				// filesystem remove errors are reported, never fail the transaction
			}
			report.Removed = append(report.Removed, pathname)
		}
	}

	if !opt.DryRun {
		if _, err := e.DB.Raw().Exec(fmt.Sprintf("DELETE FROM %s.vfile WHERE vid=?", e.Schema), opt.TargetRid); err != nil {
			return nil, errs.Wrap(errs.DB, err, "clear target vfile before repopulate")
		}
		if err := e.PopulateVfile(opt.TargetRid); err != nil {
			return nil, err
		}
		uuid, err := e.uuidOfRid(opt.TargetRid)
		if err != nil {
			return nil, err
		}
		if err := e.vvarSet("checkout", fmt.Sprintf("%d", opt.TargetRid)); err != nil {
			return nil, err
		}
		if err := e.vvarSet("checkout-hash", uuid); err != nil {
			return nil, err
		}
		if err := e.clearMergeState(); err != nil {
			return nil, err
		}
		if err := e.WriteManifestFiles(opt.TargetRid, opt.ManifestMode); err != nil {
			return nil, err
		}
		if err := e.StoreFingerprint(); err != nil {
			return nil, err
		}
	}

	commit = true
	return report, nil
}

// classifyExisting reports whether the on-disk file at name is a locally
// modified tracked file, or present-but-unmanaged.
func (e *Engine) classifyExisting(prevVid int64, name string) (modified, unmanaged bool, err error) {
	if prevVid == 0 {
		return false, true, nil
	}
	var chnged int
	dbErr := e.DB.Raw().QueryRow(
		fmt.Sprintf("SELECT chnged FROM %s.vfile WHERE vid=? AND pathname=?", e.Schema), prevVid, name).Scan(&chnged)
	if dbErr != nil {
		return false, true, nil
	}
	return chnged != 0, false, nil
}

func (e *Engine) manifestMtime(rid int64, name string) (int64, error) {
	var mtime float64
	err := e.DB.Raw().QueryRow(fmt.Sprintf("SELECT mtime FROM %s.event WHERE rid=?", e.Repo), rid).Scan(&mtime)
	if err != nil {
		return 0, errs.Wrap(errs.DB, err, "manifest mtime lookup")
	}
	return int64((mtime - 2440587.5) * 86400.0), nil
}
