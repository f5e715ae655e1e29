package checkout

import (
	"fmt"

	"github.com/rcowham/fossil-go/internal/errs"
)

func (e *Engine) createTables() error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.vvar(
			name TEXT PRIMARY KEY,
			value TEXT
		)`, e.Schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.vfile(
			id INTEGER PRIMARY KEY,
			vid INTEGER NOT NULL,
			rid INTEGER NOT NULL DEFAULT 0,
			mtime INTEGER,
			size INTEGER,
			chnged INTEGER NOT NULL DEFAULT 0,
			deleted INTEGER NOT NULL DEFAULT 0,
			isexe INTEGER NOT NULL DEFAULT 0,
			islink INTEGER NOT NULL DEFAULT 0,
			pathname TEXT NOT NULL,
			origname TEXT,
			UNIQUE(vid, pathname)
		)`, e.Schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.vmerge(
			id INTEGER NOT NULL,
			merge INTEGER NOT NULL,
			mhash TEXT
		)`, e.Schema),
	}
	for _, q := range stmts {
		if _, err := e.DB.Raw().Exec(q); err != nil {
			return errs.Wrap(errs.DB, err, "create checkout schema")
		}
	}
	return nil
}

func (e *Engine) vvarGet(name string) (string, bool, error) {
	var v string
	err := e.DB.Raw().QueryRow(fmt.Sprintf("SELECT value FROM %s.vvar WHERE name=?", e.Schema), name).Scan(&v)
	if err != nil {
		return "", false, nil
	}
	return v, true, nil
}

func (e *Engine) vvarSet(name, value string) error {
	_, err := e.DB.Raw().Exec(
		fmt.Sprintf("INSERT INTO %s.vvar(name, value) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET value=excluded.value", e.Schema),
		name, value)
	if err != nil {
		return errs.Wrap(errs.DB, err, "set vvar %s", name)
	}
	return nil
}

func (e *Engine) clearMergeState() error {
	_, err := e.DB.Raw().Exec(fmt.Sprintf("DELETE FROM %s.vmerge", e.Schema))
	if err != nil {
		return errs.Wrap(errs.DB, err, "clear merge state")
	}
	return nil
}
