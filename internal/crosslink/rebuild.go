package crosslink

import (
	"fmt"

	"github.com/alitto/pond"

	"github.com/rcowham/fossil-go/internal/deck"
	"github.com/rcowham/fossil-go/internal/errs"
)

// parsedCandidate is one rid's fetched-and-parsed content, ready to
// crosslink. dk is nil for a rid that is still a phantom, unreadable, or
// doesn't parse as an artifact.
type parsedCandidate struct {
	rid int64
	dk  *deck.Deck
}

// Rebuild drops and recomputes every derived table, then parses and
// crosslinks every non-phantom blob in rid order. Idempotent: running it
// twice in a row produces the same derived tables.
//
// Fetching and parsing each candidate's content is fanned out across a
// worker pool, since it is pure CPU/IO work independent of every other
// candidate. The actual Crosslink call per parsed candidate runs back on
// this goroutine, in rid order: Crosslink writes through the shared
// prepared-statement cache, whose loan guard allows only one borrower of
// a given statement at a time, so the writing phase cannot itself be
// fanned out across goroutines.
func (cl *Crosslinker) Rebuild() error {
	if err := cl.dropDerivedTables(); err != nil {
		return err
	}
	if err := cl.createTables(); err != nil {
		return err
	}

	rids, err := cl.candidateRids()
	if err != nil {
		return err
	}

	parsed := make([]parsedCandidate, len(rids))
	fanout := pond.New(8, len(rids)+1, pond.MinWorkers(2))
	errCh := make(chan error, len(rids))
	for i, rid := range rids {
		i, rid := i, rid
		fanout.Submit(func() {
			data, err := cl.blobs.Get(rid)
			if err != nil {
				if errs.Is(err, errs.Phantom) || errs.Is(err, errs.NotFound) {
					return
				}
				errCh <- err
				return
			}
			if !mightBeArtifact(data) {
				return
			}
			dk, err := deck.Parse(data, deck.SatypeAny)
			if err != nil {
				return // not a parseable artifact; skip silently, as the original does
			}
			parsed[i] = parsedCandidate{rid: rid, dk: dk}
		})
	}
	fanout.StopAndWait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}

	for _, c := range parsed {
		if c.dk == nil {
			continue
		}
		if err := cl.Crosslink(c.rid, c.dk); err != nil {
			return err
		}
	}
	return nil
}

// mightBeArtifact is the cheap prefilter: the first byte must be a valid
// card letter and the buffer must end with a newline; the Z card itself is
// checked by deck.Parse.
func mightBeArtifact(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	if data[0] < 'A' || data[0] > 'Z' {
		return false
	}
	return data[len(data)-1] == '\n'
}

func (cl *Crosslinker) dropDerivedTables() error {
	for _, tbl := range []string{"event", "plink", "mlink", "filename", "tagxref", "leaf", "orphan"} {
		if _, err := cl.db.Raw().Exec(fmt.Sprintf("DROP TABLE IF EXISTS %s.%s", cl.schema, tbl)); err != nil {
			return errs.Wrap(errs.DB, err, "drop table %s", tbl)
		}
	}
	return nil
}

func (cl *Crosslinker) candidateRids() ([]int64, error) {
	rows, err := cl.db.Raw().Query(
		fmt.Sprintf("SELECT rid FROM %s.blob WHERE size >= 0 ORDER BY rid", cl.schema))
	if err != nil {
		return nil, errs.Wrap(errs.DB, err, "list candidate rids")
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var rid int64
		if err := rows.Scan(&rid); err != nil {
			return nil, errs.Wrap(errs.DB, err, "scan candidate rid")
		}
		out = append(out, rid)
	}
	return out, nil
}
