package checkout

import (
	"fmt"

	"github.com/rcowham/fossil-go/internal/deck"
	"github.com/rcowham/fossil-go/internal/errs"
)

// loadCheckin reads and parses the checkin artifact at rid, resolving its
// delta-manifest baseline (if any) one level, since fossil never chains
// B-cards more than one deep.
func (e *Engine) loadCheckin(rid int64) (*deck.Deck, error) {
	data, err := e.Blobs.Get(rid)
	if err != nil {
		return nil, err
	}
	d, err := deck.Parse(data, deck.SatypeCheckin)
	if err != nil {
		return nil, err
	}
	uuid, err := e.uuidOfRid(rid)
	if err != nil {
		return nil, err
	}
	d.Rid = rid
	d.UUID = uuid
	if d.B != "" {
		baseRid, err := e.ridOfUUID(d.B)
		if err != nil {
			return nil, err
		}
		baseData, err := e.Blobs.Get(baseRid)
		if err != nil {
			return nil, err
		}
		base, err := deck.Parse(baseData, deck.SatypeCheckin)
		if err != nil {
			return nil, err
		}
		d.SetBaseline(base)
	}
	return d, nil
}

func (e *Engine) ridOfUUID(uuid string) (int64, error) {
	var rid int64
	err := e.DB.Raw().QueryRow(fmt.Sprintf("SELECT rid FROM %s.blob WHERE uuid=?", e.Repo), uuid).Scan(&rid)
	if err != nil {
		return 0, errs.New(errs.NotFound, "no blob for uuid %s", uuid)
	}
	return rid, nil
}

func (e *Engine) uuidOfRid(rid int64) (string, error) {
	var uuid string
	err := e.DB.Raw().QueryRow(fmt.Sprintf("SELECT uuid FROM %s.blob WHERE rid=?", e.Repo), rid).Scan(&uuid)
	if err != nil {
		return "", errs.New(errs.NotFound, "no blob for rid %d", rid)
	}
	return uuid, nil
}

// checkoutVid returns the vid currently loaded ("checkout" vvar), or 0 if
// none.
func (e *Engine) checkoutVid() int64 {
	v, ok, _ := e.vvarGet("checkout")
	if !ok {
		return 0
	}
	var vid int64
	fmt.Sscanf(v, "%d", &vid)
	return vid
}

// CheckoutVid exposes checkoutVid to callers outside the package, such as
// a symbol.Resolver that needs CheckoutRid kept in sync with whatever this
// checkout currently has loaded.
func (e *Engine) CheckoutVid() int64 {
	return e.checkoutVid()
}
