package repo

import (
	"fmt"

	"github.com/rcowham/fossil-go/internal/dbkit"
	"github.com/rcowham/fossil-go/internal/errs"
)

// createStaticSchema installs the tables repo.go itself reads and writes:
// config, user, reportfmt, rcvfrom and ticket. blobstore.New and
// crosslink.New install the content and derived tables separately, each
// with IF NOT EXISTS, so installation order between the three doesn't
// matter.
func createStaticSchema(db *dbkit.DB, schema string) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.config(
			name TEXT PRIMARY KEY,
			value TEXT,
			mtime INTEGER
		)`, schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.user(
			uid INTEGER PRIMARY KEY,
			login TEXT UNIQUE,
			pw TEXT,
			cap TEXT,
			info TEXT,
			mtime INTEGER,
			photo BLOB
		)`, schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.reportfmt(
			rn INTEGER PRIMARY KEY,
			owner TEXT,
			title TEXT UNIQUE,
			mtime INTEGER,
			cols TEXT,
			sqlcode TEXT
		)`, schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.rcvfrom(
			rcvid INTEGER PRIMARY KEY,
			uid INTEGER,
			mtime TEXT,
			nonce TEXT,
			ipaddr TEXT
		)`, schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.ticket(
			tkt_id INTEGER PRIMARY KEY,
			tkt_uuid TEXT UNIQUE,
			tkt_mtime REAL,
			tkt_ctime REAL,
			title TEXT,
			status TEXT,
			type TEXT,
			severity TEXT,
			priority TEXT,
			resolution TEXT,
			comment TEXT
		)`, schema),
	}
	for _, q := range stmts {
		if _, err := db.Raw().Exec(q); err != nil {
			return errs.Wrap(errs.DB, err, "create static repo schema")
		}
	}
	return nil
}
