package checkout

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rcowham/fossil-go/internal/errs"
	"github.com/rcowham/fossil-go/internal/manifestfile"
)

// WriteManifestFiles emits or removes manifest/manifest.uuid/manifest.tags
// at the checkout root for the checkin at rid, per mode.
func (e *Engine) WriteManifestFiles(rid int64, mode string) error {
	m := manifestfile.ParseMode(mode)

	if m.Raw {
		data, err := e.Blobs.Get(rid)
		if err != nil {
			return err
		}
		if err := e.writeOneManifestFile("manifest", func(w *manifestfile.Writer) error {
			return w.WriteManifest(data)
		}); err != nil {
			return err
		}
	} else {
		e.removeUntrackedManifestFile("manifest")
	}

	if m.UUID {
		uuid, err := e.uuidOfRid(rid)
		if err != nil {
			return err
		}
		if err := e.writeOneManifestFile("manifest.uuid", func(w *manifestfile.Writer) error {
			return w.WriteManifestUUID(uuid)
		}); err != nil {
			return err
		}
	} else {
		e.removeUntrackedManifestFile("manifest.uuid")
	}

	if m.Tags {
		branch, tags, err := e.branchAndTags(rid)
		if err != nil {
			return err
		}
		if err := e.writeOneManifestFile("manifest.tags", func(w *manifestfile.Writer) error {
			return w.WriteManifestTags(branch, tags)
		}); err != nil {
			return err
		}
	} else {
		e.removeUntrackedManifestFile("manifest.tags")
	}
	return nil
}

func (e *Engine) writeOneManifestFile(name string, write func(*manifestfile.Writer) error) error {
	full := filepath.Join(e.RootDir, name)
	w := manifestfile.New(full)
	if err := w.Create(); err != nil {
		return err
	}
	defer w.Close()
	return write(w)
}

// removeUntrackedManifestFile unlinks name at the checkout root if it is
// not itself a tracked vfile row, per §6's emission rule.
func (e *Engine) removeUntrackedManifestFile(name string) {
	vid := e.checkoutVid()
	var count int
	err := e.DB.Raw().QueryRow(
		fmt.Sprintf("SELECT COUNT(*) FROM %s.vfile WHERE vid=? AND pathname=?", e.Schema), vid, name).Scan(&count)
	if err != nil || count > 0 {
		return
	}
	os.Remove(filepath.Join(e.RootDir, name))
}

func (e *Engine) branchAndTags(rid int64) (string, []string, error) {
	branch := "trunk"
	var tags []string
	rows, err := e.DB.Raw().Query(
		fmt.Sprintf("SELECT tagname, value FROM %s.tagxref WHERE rid=? AND tagtype != 0", e.Repo), rid)
	if err != nil {
		return "", nil, errs.Wrap(errs.DB, err, "load tagxref for rid=%d", rid)
	}
	defer rows.Close()
	for rows.Next() {
		var tagname, value string
		if err := rows.Scan(&tagname, &value); err != nil {
			return "", nil, errs.Wrap(errs.DB, err, "scan tagxref row")
		}
		if tagname == "branch" {
			branch = value
			continue
		}
		const symPrefix = "sym-"
		if len(tagname) > len(symPrefix) && tagname[:len(symPrefix)] == symPrefix {
			tags = append(tags, tagname[len(symPrefix):])
		}
	}
	return branch, tags, nil
}
