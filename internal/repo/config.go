package repo

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rcowham/fossil-go/internal/errs"
)

// ConfigKind distinguishes the two config tiers fsl_config.h describes:
// versioned settings (meant to travel with a checkin, e.g. ignore-glob)
// and purely local ones (e.g. the default user). This port does not sync
// versioned settings through a checkin's own artifact content the way the
// original does via its .fossil-settings/ convention; instead both tiers
// live in the same config table and Versioned rows are additionally
// mirrored into config_version so ConfigGet(Versioned) never silently
// returns a Local-only value meant for this checkout alone.
type ConfigKind int

const (
	Local ConfigKind = iota
	Versioned
)

// ConfigGet reads a config value. kind only affects which tier ConfigGet
// looks in; Local falls through to any value at all, Versioned requires
// the value to have been recorded as versioned.
func (r *Repo) ConfigGet(name string, kind ConfigKind) (string, error) {
	if kind == Local {
		return readConfig(r.DB, r.Schema, name)
	}
	var v string
	err := r.DB.Raw().QueryRow(
		fmt.Sprintf("SELECT value FROM %s.config_version WHERE name=?", r.Schema), name).Scan(&v)
	if err == sql.ErrNoRows {
		return "", errs.New(errs.NotFound, "versioned config %q not set", name)
	}
	if err != nil {
		return "", errs.Wrap(errs.DB, err, "read versioned config %q", name)
	}
	return v, nil
}

// ConfigSet writes name=value into config, and into config_version too
// when kind is Versioned.
func (r *Repo) ConfigSet(name, value string, kind ConfigKind) error {
	now := float64(time.Now().Unix())/86400.0 + 2440587.5
	if _, err := r.DB.Raw().Exec(
		fmt.Sprintf("INSERT OR REPLACE INTO %s.config(name, value, mtime) VALUES (?, ?, ?)", r.Schema),
		name, value, now); err != nil {
		return errs.Wrap(errs.DB, err, "set config %q", name)
	}
	if kind != Versioned {
		return nil
	}
	if _, err := r.DB.Raw().Exec(
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.config_version(
			name TEXT PRIMARY KEY,
			value TEXT,
			mtime REAL
		)`, r.Schema)); err != nil {
		return errs.Wrap(errs.DB, err, "create config_version table")
	}
	if _, err := r.DB.Raw().Exec(
		fmt.Sprintf("INSERT OR REPLACE INTO %s.config_version(name, value, mtime) VALUES (?, ?, ?)", r.Schema),
		name, value, now); err != nil {
		return errs.Wrap(errs.DB, err, "set versioned config %q", name)
	}
	return nil
}
