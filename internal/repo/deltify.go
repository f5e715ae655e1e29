package repo

import (
	"database/sql"
	"fmt"

	"github.com/rcowham/fossil-go/internal/errs"
)

// Deltify walks every non-deltified blob with rid <= olderThan and
// attempts to store it as a delta against its primary parent (via
// plink), mirroring content_deltify's
// rebuild-time and maintenance-time scheduling heuristic. Candidates with
// no primary parent (root checkins, or artifacts outside the plink graph
// entirely, such as wiki or ticket blobs) are left alone.
func (r *Repo) Deltify(olderThan int64) (int, error) {
	rows, err := r.DB.Raw().Query(fmt.Sprintf(
		`SELECT blob.rid FROM %s.blob
		 LEFT JOIN %s.delta ON delta.rid = blob.rid
		 WHERE blob.rid <= ? AND blob.content IS NOT NULL AND delta.rid IS NULL
		 ORDER BY blob.rid`, r.Schema, r.Schema), olderThan)
	if err != nil {
		return 0, errs.Wrap(errs.DB, err, "scan deltify candidates older than rid=%d", olderThan)
	}
	var candidates []int64
	for rows.Next() {
		var rid int64
		if err := rows.Scan(&rid); err != nil {
			rows.Close()
			return 0, errs.Wrap(errs.DB, err, "scan deltify candidate row")
		}
		candidates = append(candidates, rid)
	}
	rows.Close()

	var done int
	for _, rid := range candidates {
		srcid, ok, err := r.primaryParent(rid)
		if err != nil {
			return done, err
		}
		if !ok {
			continue
		}
		if err := r.Blobs.Deltify(rid, srcid, false); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

func (r *Repo) primaryParent(rid int64) (int64, bool, error) {
	var pid int64
	err := r.DB.Raw().QueryRow(
		fmt.Sprintf("SELECT pid FROM %s.plink WHERE cid=? AND isprim=1", r.Schema), rid).Scan(&pid)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errs.Wrap(errs.DB, err, "lookup primary parent for rid=%d", rid)
	}
	return pid, true, nil
}
