package crosslink

import (
	"fmt"

	"github.com/rcowham/fossil-go/internal/deck"
	"github.com/rcowham/fossil-go/internal/errs"
)

const (
	tagTypeCancel    = 0
	tagTypeSingleton = 1
	tagTypePropagate = 2
)

func (cl *Crosslinker) crosslinkControl(rid int64, dk *deck.Deck) error {
	if err := cl.upsertEvent(rid, "g", dk.D, dk.U); err != nil {
		return err
	}
	return cl.applyTagCards(rid, dk.Tcards)
}

func (cl *Crosslinker) crosslinkEventOnly(rid int64, dk *deck.Deck) error {
	etype := eventTypeFor(dk.Satype)
	mtime := dk.D
	if dk.Satype == deck.SatypeTechnote {
		mtime = dk.E.Date
	}
	return cl.upsertEvent(rid, etype, mtime, dk.U)
}

func eventTypeFor(st deck.Satype) string {
	switch st {
	case deck.SatypeWiki:
		return "w"
	case deck.SatypeTechnote:
		return "e"
	case deck.SatypeAttachment:
		return "a"
	case deck.SatypeForumpost:
		return "f"
	default:
		return "g"
	}
}

func (cl *Crosslinker) applyTagCards(rid int64, tags []deck.TCard) error {
	for _, t := range tags {
		target := t.UUID
		targetRid := rid
		if target != "" && target != "*" {
			r, _, isPhantom, found, err := lookupBlobByUUIDRaw(cl.db, cl.schema, target)
			if err != nil {
				return err
			}
			if !found {
				r, err = cl.blobs.PutPhantom(target)
				if err != nil {
					return err
				}
				isPhantom = true
			}
			if isPhantom {
				if err := cl.recordOrphan(r, rid); err != nil {
					return err
				}
			}
			targetRid = r
		}

		tagtype := tagTypeSingleton
		switch t.Kind {
		case '-':
			tagtype = tagTypeCancel
		case '*':
			tagtype = tagTypePropagate
		}

		stmt, err := cl.db.Prepare(fmt.Sprintf(`INSERT INTO %s.tagxref(tagname, rid, tagtype, value, mtime) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(tagname, rid) DO UPDATE SET tagtype=excluded.tagtype, value=excluded.value, mtime=excluded.mtime`, cl.schema))
		if err != nil {
			return err
		}
		_, err = stmt.Raw().Exec(t.Name, targetRid, tagtype, t.Value, nil)
		stmt.Release()
		if err != nil {
			return errs.Wrap(errs.DB, err, "insert tagxref tag=%s rid=%d", t.Name, targetRid)
		}

		if tagtype == tagTypePropagate {
			if err := cl.propagateTag(t.Name, targetRid, t.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

// applyPropagatingParentTags carries forward any propagating tag a parent
// held onto the child, before the child's own T-cards are applied (which
// may then cancel them).
func (cl *Crosslinker) applyPropagatingParentTags(rid int64, parents []int64) error {
	for _, p := range parents {
		rows, err := cl.db.Raw().Query(
			fmt.Sprintf("SELECT tagname, value FROM %s.tagxref WHERE rid=? AND tagtype=?", cl.schema),
			p, tagTypePropagate)
		if err != nil {
			return errs.Wrap(errs.DB, err, "lookup propagating tags pid=%d", p)
		}
		var toApply []deck.TCard
		for rows.Next() {
			var name, value string
			if err := rows.Scan(&name, &value); err != nil {
				rows.Close()
				return errs.Wrap(errs.DB, err, "scan propagating tag")
			}
			toApply = append(toApply, deck.TCard{Kind: '*', Name: name, Value: value, UUID: "*"})
		}
		rows.Close()
		if err := cl.applyTagCards(rid, toApply); err != nil {
			return err
		}
	}
	return nil
}

// propagateTag cascades a propagating tag to every descendant of rid,
// walking plink forward (children), stopping at any
// descendant that already cancels the same tag name.
func (cl *Crosslinker) propagateTag(name string, rid int64, value string) error {
	const maxDepth = 100000
	queue := []int64{rid}
	visited := map[int64]bool{rid: true}
	for depth := 0; len(queue) > 0 && depth < maxDepth; depth++ {
		cur := queue[0]
		queue = queue[1:]

		rows, err := cl.db.Raw().Query(
			fmt.Sprintf("SELECT cid FROM %s.plink WHERE pid=?", cl.schema), cur)
		if err != nil {
			return errs.Wrap(errs.DB, err, "propagate lookup children rid=%d", cur)
		}
		var children []int64
		for rows.Next() {
			var c int64
			if err := rows.Scan(&c); err != nil {
				rows.Close()
				return errs.Wrap(errs.DB, err, "scan child")
			}
			children = append(children, c)
		}
		rows.Close()

		for _, c := range children {
			if visited[c] {
				continue
			}
			visited[c] = true
			var tagtype int
			err := cl.db.Raw().QueryRow(
				fmt.Sprintf("SELECT tagtype FROM %s.tagxref WHERE tagname=? AND rid=?", cl.schema), name, c).Scan(&tagtype)
			if err == nil && tagtype == tagTypeCancel {
				continue
			}
			if _, err := cl.db.Raw().Exec(
				fmt.Sprintf(`INSERT INTO %s.tagxref(tagname, rid, tagtype, value, mtime) VALUES (?, ?, ?, ?, NULL)
					ON CONFLICT(tagname, rid) DO UPDATE SET tagtype=excluded.tagtype, value=excluded.value`, cl.schema),
				name, c, tagTypePropagate, value); err != nil {
				return errs.Wrap(errs.DB, err, "propagate tag=%s rid=%d", name, c)
			}
			queue = append(queue, c)
		}
	}
	return nil
}
