// Package deck implements §4.5: the card-based artifact grammar (parse,
// serialize, validate, derive, unshuffle) shared by every kind of artifact
// fossil stores as a blob (checkins, clusters, control artifacts, wiki
// pages, tickets, attachments, technotes and forum posts).
package deck

import "github.com/rcowham/fossil-go/internal/errs"

// Satype identifies which of the eight artifact grammars a Deck follows.
type Satype int

const (
	SatypeAny Satype = iota
	SatypeCheckin
	SatypeCluster
	SatypeControl
	SatypeWiki
	SatypeTicket
	SatypeAttachment
	SatypeTechnote
	SatypeForumpost
	satypeCount
)

func (t Satype) String() string {
	switch t {
	case SatypeCheckin:
		return "checkin"
	case SatypeCluster:
		return "cluster"
	case SatypeControl:
		return "control"
	case SatypeWiki:
		return "wiki"
	case SatypeTicket:
		return "ticket"
	case SatypeAttachment:
		return "attachment"
	case SatypeTechnote:
		return "technote"
	case SatypeForumpost:
		return "forumpost"
	default:
		return "any"
	}
}

// FCard is one F-line: a file's name, content hash and permission bits. A
// deleted entry (only legal in a delta manifest) carries Deleted=true and
// an empty UUID.
type FCard struct {
	Name      string
	UUID      string
	Perm      string
	PriorName string // set only on a rename
	Deleted   bool
}

// TCard is one T-line: a tag mutation.
type TCard struct {
	Kind  byte // '+' add, '-' cancel, '*' propagate
	Name  string
	Value string
	UUID  string // target artifact uuid, or "*" for the containing artifact
}

// QCard is one Q-line: a cherry-pick (+) or backout (-) reference.
type QCard struct {
	Sign   byte
	Target string
}

// Deck holds the parsed (or being-built) fields of one artifact.
type Deck struct {
	Satype Satype
	Rid    int64
	UUID   string

	B string // baseline hash, delta manifest only
	C string // comment text
	D float64
	E struct {
		UUID string
		Date float64
	}
	Fcards []FCard
	G      string
	H      string
	I      string
	J      map[string]string
	K      string
	L      string
	M      []string
	N      string
	P      []string
	Q      []QCard
	R      string
	Tcards []TCard
	U      string
	W      string
	Z      string

	sourceBuf  []byte // set when parsed from bytes; released by Clean
	hasBaseline bool
	baseline   *Deck // lazily loaded by the caller via SetBaseline, for delta manifests
}

// New returns an empty Deck of the given satype.
func New(satype Satype) *Deck {
	return &Deck{Satype: satype, J: make(map[string]string)}
}

// Clean releases the deck's reference to its source buffer. The deck's
// string fields are copies made during parsing, so they stay valid after
// Clean and after the caller reuses the buffer.
func (d *Deck) Clean() {
	d.sourceBuf = nil
}

// SetBaseline attaches the already-loaded baseline deck for a delta
// manifest, enabling EffectiveFiles.
func (d *Deck) SetBaseline(b *Deck) {
	d.baseline = b
}

const (
	legalForbidden = iota
	legalOptional
	legalRequired
)

// cardRule[card] is indexed by Satype-1 (checkin..forumpost, 8 entries).
var cardRule = map[byte][8]int{
	'A': {legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalRequired, legalForbidden, legalForbidden},
	'B': {legalOptional, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden},
	'C': {legalOptional, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden},
	'D': {legalRequired, legalForbidden, legalRequired, legalRequired, legalRequired, legalRequired, legalRequired, legalRequired},
	'E': {legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalRequired, legalForbidden},
	'F': {legalOptional, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden},
	'G': {legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalOptional},
	'H': {legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalOptional},
	'I': {legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalOptional},
	'J': {legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalRequired, legalForbidden, legalForbidden, legalForbidden},
	'K': {legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalRequired, legalForbidden, legalForbidden, legalForbidden},
	'L': {legalForbidden, legalForbidden, legalForbidden, legalRequired, legalForbidden, legalForbidden, legalForbidden, legalForbidden},
	'M': {legalForbidden, legalRequired, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden},
	'N': {legalOptional, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden},
	'P': {legalOptional, legalForbidden, legalOptional, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden},
	'Q': {legalOptional, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden},
	'R': {legalOptional, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden},
	'T': {legalOptional, legalForbidden, legalRequired, legalForbidden, legalForbidden, legalForbidden, legalForbidden, legalForbidden},
	'U': {legalRequired, legalForbidden, legalRequired, legalRequired, legalRequired, legalRequired, legalRequired, legalRequired},
	'W': {legalForbidden, legalForbidden, legalForbidden, legalRequired, legalForbidden, legalForbidden, legalOptional, legalRequired},
	'Z': {legalRequired, legalRequired, legalRequired, legalRequired, legalRequired, legalRequired, legalRequired, legalRequired},
}

func legalityFor(card byte, st Satype) int {
	row, ok := cardRule[card]
	if !ok || st == SatypeAny || st < SatypeCheckin || st > SatypeForumpost {
		return legalForbidden
	}
	return row[st-1]
}

// checkCardLegal returns a typed error if card cannot appear on a deck of
// satype st.
func checkCardLegal(card byte, st Satype) error {
	if legalityFor(card, st) == legalForbidden {
		return errs.New(errs.Type, "card %q is not legal on a %s artifact", string(card), st)
	}
	return nil
}
