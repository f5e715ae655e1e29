package checkout

import (
	"crypto/md5"
	"database/sql"
	"fmt"

	"github.com/rcowham/fossil-go/internal/errs"
)

// ComputeFingerprint derives the fingerprint string for rcvid (or the most
// recently received row, when rcvid<=0) from the repository's rcvfrom
// table: MD5 of uid/mtime/nonce/ipaddr concatenated, formatted as
// "rcvid/hexmd5", per §4.9.5. Returns errs.NotFound if rcvfrom is empty.
func (e *Engine) ComputeFingerprint(rcvid int64) (string, error) {
	var q string
	var args []any
	if rcvid > 0 {
		q = fmt.Sprintf("SELECT rcvid, uid, mtime, nonce, ipaddr FROM %s.rcvfrom WHERE rcvid=?", e.Repo)
		args = []any{rcvid}
	} else {
		q = fmt.Sprintf("SELECT rcvid, uid, mtime, nonce, ipaddr FROM %s.rcvfrom ORDER BY rcvid DESC LIMIT 1", e.Repo)
	}

	var gotRcvid int64
	var uid sql.NullInt64
	var mtime, nonce, ipaddr sql.NullString
	err := e.DB.Raw().QueryRow(q, args...).Scan(&gotRcvid, &uid, &mtime, &nonce, &ipaddr)
	if err == sql.ErrNoRows {
		return "", errs.New(errs.NotFound, "no rcvfrom rows to fingerprint")
	}
	if err != nil {
		return "", errs.Wrap(errs.DB, err, "query rcvfrom for fingerprint")
	}

	h := md5.New()
	fmt.Fprintf(h, "%d", uid.Int64)
	h.Write([]byte(mtime.String))
	h.Write([]byte(nonce.String))
	h.Write([]byte(ipaddr.String))
	return fmt.Sprintf("%d/%x", gotRcvid, h.Sum(nil)), nil
}

// StoreFingerprint records the checkout's fingerprint in vvar, called once
// after Checkout or Update completes.
func (e *Engine) StoreFingerprint() error {
	fp, err := e.ComputeFingerprint(0)
	if err != nil {
		if errs.KindOf(err) == errs.NotFound {
			return nil // no rcvfrom rows yet; nothing to record
		}
		return err
	}
	return e.vvarSet("fingerprint", fp)
}

// CheckFingerprint implements ckout_fingerprint_check: it compares the
// checkout's recorded fingerprint against one freshly computed from the
// repository's current rcvfrom table. A missing recorded fingerprint (an
// older checkout DB) is tolerated and reports no mismatch. A mismatch means
// the repository file underneath this checkout was replaced.
func (e *Engine) CheckFingerprint() (mismatch bool, err error) {
	recorded, ok, err := e.vvarGet("fingerprint")
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	current, err := e.ComputeFingerprint(0)
	if err != nil {
		if errs.KindOf(err) == errs.NotFound {
			return false, nil
		}
		return false, err
	}
	return recorded != current, nil
}
