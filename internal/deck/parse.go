package deck

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/rcowham/fossil-go/internal/errs"
)

// Parse tokenizes data as one artifact and returns the populated Deck. If
// satype is SatypeAny, the card set is used to detect the concrete type.
// The returned Deck keeps a reference to data until Clean is called; its
// string fields are copies and do not alias data.
func Parse(data []byte, satype Satype) (*Deck, error) {
	lines, err := splitLines(data)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, errs.New(errs.Syntax, "empty artifact")
	}

	last := lines[len(lines)-1]
	if len(last) == 0 || last[0] != 'Z' {
		return nil, errs.New(errs.Syntax, "artifact does not end with a Z card")
	}
	zArg := strings.TrimSpace(string(last[1:]))
	zEnd := len(data) - len(last) - 1 // offset where the Z line begins
	if zEnd < 0 {
		zEnd = 0
	}
	sum := md5.Sum(data[:zEnd])
	if hex.EncodeToString(sum[:]) != zArg {
		return nil, errs.New(errs.Consistency, "Z card checksum mismatch")
	}

	d := &Deck{Satype: satype, sourceBuf: data, J: make(map[string]string)}
	seen := make(map[byte]bool)
	var lastCard byte

	for _, line := range lines[:len(lines)-1] {
		if len(line) == 0 {
			return nil, errs.New(errs.Syntax, "empty card line")
		}
		card := line[0]
		if card < 'A' || card > 'Z' {
			return nil, errs.New(errs.Syntax, "invalid card letter %q", string(card))
		}
		if card < lastCard {
			return nil, errs.New(errs.Syntax, "cards out of order: %q after %q", string(card), string(lastCard))
		}
		lastCard = card

		isUnique := card != 'F' && card != 'J' && card != 'M' && card != 'Q' && card != 'T'
		if isUnique && seen[card] {
			return nil, errs.New(errs.Syntax, "duplicate unique card %q", string(card))
		}
		seen[card] = true

		args := splitArgs(line[1:])
		if err := parseCard(d, card, args); err != nil {
			return nil, err
		}
	}
	seen['Z'] = true

	if satype == SatypeAny {
		detected, err := detectSatype(seen)
		if err != nil {
			return nil, err
		}
		d.Satype = detected
	}

	for card := range seen {
		if err := checkCardLegal(card, d.Satype); err != nil {
			return nil, err
		}
	}
	if d.Satype >= SatypeCheckin && d.Satype <= SatypeForumpost {
		for card, rule := range cardRule {
			if rule[d.Satype-1] == legalRequired && !seen[card] {
				return nil, errs.New(errs.Syntax, "missing required card %q for %s artifact", string(card), d.Satype)
			}
		}
	}

	return d, nil
}

func parseCard(d *Deck, card byte, args []string) error {
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}
	switch card {
	case 'A':
		d.Fcards = append(d.Fcards, FCard{Name: arg(0), UUID: arg(1)})
	case 'B':
		d.B = arg(0)
	case 'C':
		d.C = strings.Join(args, " ")
	case 'D':
		v, err := strconv.ParseFloat(arg(0), 64)
		if err != nil {
			return errs.Wrap(errs.Syntax, err, "bad D card date %q", arg(0))
		}
		d.D = v
	case 'E':
		d.E.UUID = arg(0)
		v, err := strconv.ParseFloat(arg(1), 64)
		if err != nil {
			return errs.Wrap(errs.Syntax, err, "bad E card date %q", arg(1))
		}
		d.E.Date = v
	case 'F':
		f := FCard{Name: arg(0), UUID: arg(1), Perm: arg(2), PriorName: arg(3)}
		if f.UUID == "" {
			f.Deleted = true
		}
		d.Fcards = append(d.Fcards, f)
	case 'G':
		d.G = arg(0)
	case 'H':
		d.H = strings.Join(args, " ")
	case 'I':
		d.I = arg(0)
	case 'J':
		name := arg(0)
		value := ""
		if len(args) > 1 {
			value = strings.Join(args[1:], " ")
		}
		d.J[name] = value
	case 'K':
		d.K = arg(0)
	case 'L':
		d.L = strings.Join(args, " ")
	case 'M':
		d.M = append(d.M, arg(0))
	case 'N':
		d.N = arg(0)
	case 'P':
		d.P = append(d.P, args...)
	case 'Q':
		t := arg(0)
		if t == "" {
			return errs.New(errs.Syntax, "empty Q card")
		}
		d.Q = append(d.Q, QCard{Sign: t[0], Target: t[1:]})
	case 'R':
		d.R = arg(0)
	case 'T':
		t := arg(0)
		if t == "" {
			return errs.New(errs.Syntax, "empty T card")
		}
		d.Tcards = append(d.Tcards, TCard{Kind: t[0], Name: t[1:], Value: arg(2), UUID: arg(1)})
	case 'U':
		d.U = arg(0)
	case 'W':
		d.W = strings.Join(args, " ")
	}
	return nil
}

func detectSatype(seen map[byte]bool) (Satype, error) {
	switch {
	case seen['A']:
		return SatypeAttachment, nil
	case seen['M']:
		return SatypeCluster, nil
	case seen['J'] || seen['K']:
		return SatypeTicket, nil
	case seen['L']:
		return SatypeWiki, nil
	case seen['G'] || seen['H'] || seen['I']:
		return SatypeForumpost, nil
	case seen['E']:
		return SatypeTechnote, nil
	case seen['F'] || seen['C'] || seen['B']:
		return SatypeCheckin, nil
	case seen['T']:
		return SatypeControl, nil
	default:
		return SatypeAny, errs.New(errs.Ambiguous, "cannot auto-detect artifact type from its card set")
	}
}

// splitLines splits data on '\n', requiring a trailing newline on every
// line including the last.
func splitLines(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if data[len(data)-1] != '\n' {
		return nil, errs.New(errs.Syntax, "artifact does not end with a newline")
	}
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			lines = append(lines, data[start:i])
			start = i + 1
		}
	}
	return lines, nil
}

func splitArgs(rest []byte) []string {
	s := strings.TrimLeft(string(rest), " ")
	if s == "" {
		return nil
	}
	return strings.Split(s, " ")
}
