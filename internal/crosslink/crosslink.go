// Package crosslink implements §4.6: materializing the derived relational
// tables (event, mlink, plink, tagxref, filename, leaf) from parsed
// artifacts, plus the listener registry, dephantomization cascade and
// rebuild operation.
package crosslink

import (
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rcowham/fossil-go/internal/blobstore"
	"github.com/rcowham/fossil-go/internal/dbkit"
	"github.com/rcowham/fossil-go/internal/deck"
	"github.com/rcowham/fossil-go/internal/errs"
)

// Listener is a named callback run at the end of a successful crosslink
// pass for one artifact. Returning an error aborts the whole transaction.
type Listener func(cl *Crosslinker, rid int64, dk *deck.Deck) error

// Crosslinker materializes derived tables for one repository schema.
type Crosslinker struct {
	db     *dbkit.DB
	schema string
	logger *logrus.Logger
	blobs  *blobstore.Store

	listenerNames []string
	listeners     map[string]Listener
}

// New creates a Crosslinker over schema, creating its derived tables if
// they do not already exist, and pre-registering the default
// "fsl/<satype>/timeline" listeners.
func New(db *dbkit.DB, schema string, logger *logrus.Logger, blobs *blobstore.Store) (*Crosslinker, error) {
	cl := &Crosslinker{
		db:        db,
		schema:    schema,
		logger:    logger,
		blobs:     blobs,
		listeners: make(map[string]Listener),
	}
	if err := cl.createTables(); err != nil {
		return nil, err
	}
	cl.registerDefaultListeners()
	blobs.OnDephantomize = cl.onDephantomize
	return cl, nil
}

func (cl *Crosslinker) createTables() error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.event(
			rid INTEGER PRIMARY KEY,
			type TEXT NOT NULL,
			mtime REAL NOT NULL,
			user TEXT,
			comment TEXT
		)`, cl.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.plink(
			cid INTEGER NOT NULL,
			pid INTEGER NOT NULL,
			isprim INTEGER NOT NULL,
			PRIMARY KEY(cid, pid)
		)`, cl.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.mlink(
			mid INTEGER NOT NULL,
			pid INTEGER NOT NULL,
			fid INTEGER NOT NULL,
			fnid INTEGER NOT NULL,
			pfnid INTEGER NOT NULL,
			mperm TEXT,
			isaux INTEGER NOT NULL DEFAULT 0
		)`, cl.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.filename(
			fnid INTEGER PRIMARY KEY,
			name TEXT UNIQUE NOT NULL
		)`, cl.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.tagxref(
			tagname TEXT NOT NULL,
			rid INTEGER NOT NULL,
			tagtype INTEGER NOT NULL,
			value TEXT,
			mtime REAL,
			PRIMARY KEY(tagname, rid)
		)`, cl.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.leaf(rid INTEGER PRIMARY KEY)`, cl.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.orphan(
			baseline INTEGER NOT NULL,
			rid INTEGER NOT NULL,
			PRIMARY KEY(baseline, rid)
		)`, cl.schema),
	}
	for _, q := range stmts {
		if _, err := cl.db.Raw().Exec(q); err != nil {
			return errs.Wrap(errs.DB, err, "create crosslink tables")
		}
	}
	return nil
}

// RegisterListener installs fn under name; listeners run for every
// crosslinked artifact. A second registration under an existing name
// replaces it in place, preserving call order.
func (cl *Crosslinker) RegisterListener(name string, fn Listener) {
	if _, exists := cl.listeners[name]; !exists {
		cl.listenerNames = append(cl.listenerNames, name)
	}
	cl.listeners[name] = fn
}

func (cl *Crosslinker) registerDefaultListeners() {
	for _, st := range []deck.Satype{
		deck.SatypeCheckin, deck.SatypeControl, deck.SatypeWiki,
		deck.SatypeTicket, deck.SatypeAttachment, deck.SatypeTechnote, deck.SatypeForumpost,
	} {
		name := fmt.Sprintf("fsl/%s/timeline", st)
		cl.RegisterListener(name, timelineListener)
	}
}

func timelineListener(cl *Crosslinker, rid int64, dk *deck.Deck) error {
	comment := dk.C
	if comment == "" {
		comment = dk.W
	}
	_, err := cl.db.Raw().Exec(
		fmt.Sprintf("UPDATE %s.event SET comment=? WHERE rid=?", cl.schema), comment, rid)
	if err != nil {
		return errs.Wrap(errs.DB, err, "timeline listener rid=%d", rid)
	}
	return nil
}

func (cl *Crosslinker) runListeners(rid int64, dk *deck.Deck) error {
	for _, name := range cl.listenerNames {
		if err := cl.listeners[name](cl, rid, dk); err != nil {
			return errs.Wrap(errs.Consistency, err, "listener %q aborted crosslink of rid=%d", name, rid)
		}
	}
	return nil
}

// Crosslink runs the per-satype crosslink workflow for an already-saved
// artifact, then its registered listeners.
func (cl *Crosslinker) Crosslink(rid int64, dk *deck.Deck) error {
	switch dk.Satype {
	case deck.SatypeCheckin:
		if err := cl.crosslinkCheckin(rid, dk); err != nil {
			return err
		}
	case deck.SatypeControl:
		if err := cl.crosslinkControl(rid, dk); err != nil {
			return err
		}
	case deck.SatypeWiki, deck.SatypeTechnote, deck.SatypeAttachment, deck.SatypeForumpost:
		if err := cl.crosslinkEventOnly(rid, dk); err != nil {
			return err
		}
	case deck.SatypeCluster:
		// no event row; M-cards are consumed by sync bookkeeping only.
	}
	return cl.runListeners(rid, dk)
}

func (cl *Crosslinker) upsertEvent(rid int64, etype string, mtime float64, user string) error {
	mtime, err := cl.nudgeForClockSkew(rid, mtime)
	if err != nil {
		return err
	}
	stmt, err := cl.db.Prepare(fmt.Sprintf(`INSERT INTO %s.event(rid, type, mtime, user) VALUES (?, ?, ?, ?)
		ON CONFLICT(rid) DO UPDATE SET type=excluded.type, mtime=excluded.mtime, user=excluded.user`, cl.schema))
	if err != nil {
		return err
	}
	_, err = stmt.Raw().Exec(rid, etype, mtime, user)
	stmt.Release()
	if err != nil {
		return errs.Wrap(errs.DB, err, "upsert event rid=%d", rid)
	}
	return nil
}

// nudgeForClockSkew ensures mtime is strictly greater than every parent's
// recorded event mtime, preserving the invariant that timeline order is a
// superset of parent order even when a commit's wall clock lagged.
func (cl *Crosslinker) nudgeForClockSkew(rid int64, mtime float64) (float64, error) {
	rows, err := cl.db.Raw().Query(
		fmt.Sprintf("SELECT pid FROM %s.plink WHERE cid=?", cl.schema), rid)
	if err != nil {
		return mtime, errs.Wrap(errs.DB, err, "nudge lookup parents rid=%d", rid)
	}
	defer rows.Close()
	var parents []int64
	for rows.Next() {
		var pid int64
		if err := rows.Scan(&pid); err != nil {
			return mtime, errs.Wrap(errs.DB, err, "scan parent")
		}
		parents = append(parents, pid)
	}
	const epsilon = 0.0000001
	for _, pid := range parents {
		var pmtime float64
		err := cl.db.Raw().QueryRow(
			fmt.Sprintf("SELECT mtime FROM %s.event WHERE rid=?", cl.schema), pid).Scan(&pmtime)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return mtime, errs.Wrap(errs.DB, err, "nudge lookup parent mtime pid=%d", pid)
		}
		if mtime <= pmtime {
			mtime = pmtime + epsilon
		}
	}
	return mtime, nil
}

func (cl *Crosslinker) filenameID(name string) (int64, error) {
	lookup, err := cl.db.Prepare(fmt.Sprintf("SELECT fnid FROM %s.filename WHERE name=? %s", cl.schema, cl.db.Collation()))
	if err != nil {
		return 0, err
	}
	var fnid int64
	err = lookup.Raw().QueryRow(name).Scan(&fnid)
	lookup.Release()
	if err == nil {
		return fnid, nil
	}
	if err != sql.ErrNoRows {
		return 0, errs.Wrap(errs.DB, err, "lookup filename %q", name)
	}
	insert, err := cl.db.Prepare(fmt.Sprintf("INSERT INTO %s.filename(name) VALUES (?)", cl.schema))
	if err != nil {
		return 0, err
	}
	res, err := insert.Raw().Exec(name)
	insert.Release()
	if err != nil {
		return 0, errs.Wrap(errs.DB, err, "insert filename %q", name)
	}
	return res.LastInsertId()
}

// resolveFid resolves uuid to a blob rid on behalf of dependentRid's
// crosslink, recording dependentRid as an orphan of the target whenever
// the target is (or becomes) a phantom.
func (cl *Crosslinker) resolveFid(dependentRid int64, uuid string) (int64, error) {
	if uuid == "" {
		return 0, nil
	}
	rid, _, isPhantom, found, err := lookupBlobByUUIDRaw(cl.db, cl.schema, uuid)
	if err != nil {
		return 0, err
	}
	if !found {
		rid, err = cl.blobs.PutPhantom(uuid)
		if err != nil {
			return 0, err
		}
		isPhantom = true
	}
	if isPhantom {
		if err := cl.recordOrphan(rid, dependentRid); err != nil {
			return 0, err
		}
	}
	return rid, nil
}

func lookupBlobByUUIDRaw(db *dbkit.DB, schema, uuid string) (rid int64, size int, isPhantom bool, found bool, err error) {
	err = db.Raw().QueryRow(
		fmt.Sprintf("SELECT rid, size FROM %s.blob WHERE uuid=?", schema), uuid).Scan(&rid, &size)
	if err == sql.ErrNoRows {
		return 0, 0, false, false, nil
	}
	if err != nil {
		return 0, 0, false, false, errs.Wrap(errs.DB, err, "lookup uuid=%s", uuid)
	}
	return rid, size, size < 0, true, nil
}

// onDephantomize implements §4.6's dephantomization cascade: when rid's
// content becomes available, walk delta(srcid=rid) (blobs stored as a
// delta against rid, which could not be reconstructed while rid was a
// phantom) and orphan(baseline=rid) (artifacts whose crosslink referenced
// rid's UUID before rid's content existed) and re-crosslink every one of
// them, since they may themselves unblock further dependents.
func (cl *Crosslinker) onDephantomize(rid int64) error {
	const maxDepth = 64
	queue := []int64{rid}
	seen := map[int64]bool{rid: true}
	for depth := 0; len(queue) > 0 && depth < maxDepth; depth++ {
		next := queue[0]
		queue = queue[1:]

		deltaDeps, err := cl.dependents(next)
		if err != nil {
			return err
		}
		orphanDeps, err := cl.orphansOf(next)
		if err != nil {
			return err
		}

		for _, d := range append(deltaDeps, orphanDeps...) {
			if seen[d] {
				continue
			}
			seen[d] = true
			recrosslinked, err := cl.recrosslink(d)
			if err != nil {
				return err
			}
			if recrosslinked {
				if err := cl.clearOrphan(d); err != nil {
					return err
				}
				queue = append(queue, d)
			}
		}
	}
	return nil
}

// recrosslink re-parses and re-crosslinks rid's now-available content,
// the same way Rebuild treats one candidate. Reports false (not an error)
// for a rid whose content still isn't available or doesn't parse as an
// artifact, mirroring Rebuild's silent-skip behavior.
func (cl *Crosslinker) recrosslink(rid int64) (bool, error) {
	data, err := cl.blobs.Get(rid)
	if err != nil {
		if errs.Is(err, errs.Phantom) || errs.Is(err, errs.NotFound) {
			return false, nil
		}
		return false, err
	}
	if !mightBeArtifact(data) {
		return false, nil
	}
	dk, err := deck.Parse(data, deck.SatypeAny)
	if err != nil {
		return false, nil
	}
	if err := cl.Crosslink(rid, dk); err != nil {
		return false, err
	}
	return true, nil
}

func (cl *Crosslinker) dependents(rid int64) ([]int64, error) {
	rows, err := cl.db.Raw().Query(
		fmt.Sprintf("SELECT rid FROM %s.delta WHERE srcid=?", cl.schema), rid)
	if err != nil {
		return nil, errs.Wrap(errs.DB, err, "dependents lookup rid=%d", rid)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var r int64
		if err := rows.Scan(&r); err != nil {
			return nil, errs.Wrap(errs.DB, err, "scan dependent")
		}
		out = append(out, r)
	}
	return out, nil
}

// orphansOf returns the rids recorded against baseline in the orphan
// table: artifacts whose crosslink referenced baseline's UUID while
// baseline was still a phantom.
func (cl *Crosslinker) orphansOf(baseline int64) ([]int64, error) {
	rows, err := cl.db.Raw().Query(
		fmt.Sprintf("SELECT rid FROM %s.orphan WHERE baseline=?", cl.schema), baseline)
	if err != nil {
		return nil, errs.Wrap(errs.DB, err, "orphans lookup baseline=%d", baseline)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var r int64
		if err := rows.Scan(&r); err != nil {
			return nil, errs.Wrap(errs.DB, err, "scan orphan row")
		}
		out = append(out, r)
	}
	return out, nil
}

// recordOrphan notes that rid's crosslink referenced baseline while
// baseline was (or still is) a phantom, so onDephantomize(baseline) knows
// to re-crosslink rid later.
func (cl *Crosslinker) recordOrphan(baseline, rid int64) error {
	if baseline == rid {
		return nil
	}
	if _, err := cl.db.Raw().Exec(
		fmt.Sprintf("INSERT OR IGNORE INTO %s.orphan(baseline, rid) VALUES (?, ?)", cl.schema),
		baseline, rid); err != nil {
		return errs.Wrap(errs.DB, err, "record orphan baseline=%d rid=%d", baseline, rid)
	}
	return nil
}

// clearOrphan drops rid's orphan rows once it has been successfully
// re-crosslinked against newly-available content.
func (cl *Crosslinker) clearOrphan(rid int64) error {
	if _, err := cl.db.Raw().Exec(
		fmt.Sprintf("DELETE FROM %s.orphan WHERE rid=?", cl.schema), rid); err != nil {
		return errs.Wrap(errs.DB, err, "clear orphan rid=%d", rid)
	}
	return nil
}