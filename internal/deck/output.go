package deck

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"

	"github.com/rcowham/fossil-go/internal/errs"
)

// Output serializes d's cards in card-letter order, one per line, and
// appends the Z self-digest line. The returned bytes are what Parse must
// reproduce byte-for-byte when fed back in.
func (d *Deck) Output(w io.Writer) error {
	var buf bytes.Buffer
	d.writeCards(&buf)

	sum := md5.Sum(buf.Bytes())
	fmt.Fprintf(&buf, "Z %s\n", hex.EncodeToString(sum[:]))
	d.Z = hex.EncodeToString(sum[:])

	_, err := w.Write(buf.Bytes())
	return err
}

// Bytes is a convenience wrapper around Output.
func (d *Deck) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *Deck) writeCards(buf *bytes.Buffer) {
	if d.Satype == SatypeAttachment {
		for _, f := range d.Fcards {
			fmt.Fprintf(buf, "A %s %s\n", f.Name, f.UUID)
		}
	}
	if d.B != "" {
		fmt.Fprintf(buf, "B %s\n", d.B)
	}
	if d.C != "" {
		fmt.Fprintf(buf, "C %s\n", d.C)
	}
	fmt.Fprintf(buf, "D %s\n", formatJulian(d.D))
	if d.Satype == SatypeTechnote {
		fmt.Fprintf(buf, "E %s %s\n", d.E.UUID, formatJulian(d.E.Date))
	}
	if d.Satype == SatypeCheckin {
		for _, f := range d.Fcards {
			writeFCard(buf, f)
		}
	}
	if d.G != "" {
		fmt.Fprintf(buf, "G %s\n", d.G)
	}
	if d.H != "" {
		fmt.Fprintf(buf, "H %s\n", d.H)
	}
	if d.I != "" {
		fmt.Fprintf(buf, "I %s\n", d.I)
	}
	for _, name := range sortedKeys(d.J) {
		fmt.Fprintf(buf, "J %s %s\n", name, d.J[name])
	}
	if d.K != "" {
		fmt.Fprintf(buf, "K %s\n", d.K)
	}
	if d.L != "" {
		fmt.Fprintf(buf, "L %s\n", d.L)
	}
	for _, m := range d.M {
		fmt.Fprintf(buf, "M %s\n", m)
	}
	if d.N != "" {
		fmt.Fprintf(buf, "N %s\n", d.N)
	}
	for _, p := range d.P {
		buf.WriteString("P")
		buf.WriteByte(' ')
		buf.WriteString(p)
		buf.WriteByte('\n')
	}
	for _, q := range d.Q {
		fmt.Fprintf(buf, "Q %c%s\n", q.Sign, q.Target)
	}
	if d.R != "" {
		fmt.Fprintf(buf, "R %s\n", d.R)
	}
	for _, t := range d.Tcards {
		fmt.Fprintf(buf, "T %c%s %s %s\n", t.Kind, t.Name, t.UUID, t.Value)
	}
	if d.U != "" {
		fmt.Fprintf(buf, "U %s\n", d.U)
	}
	if d.W != "" {
		fmt.Fprintf(buf, "W %s\n", d.W)
	}
}

func writeFCard(buf *bytes.Buffer, f FCard) {
	if f.Deleted {
		fmt.Fprintf(buf, "F %s\n", f.Name)
		return
	}
	switch {
	case f.PriorName != "":
		fmt.Fprintf(buf, "F %s %s %s %s\n", f.Name, f.UUID, f.Perm, f.PriorName)
	case f.Perm != "":
		fmt.Fprintf(buf, "F %s %s %s\n", f.Name, f.UUID, f.Perm)
	default:
		fmt.Fprintf(buf, "F %s %s\n", f.Name, f.UUID)
	}
}

func formatJulian(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

// ValidateDates checks the D/E julian-day fields are within the legal
// range fossil accepts, 0 < d < 5373484.5.
func (d *Deck) ValidateDates() error {
	if d.D <= 0 || d.D >= 5373484.5 {
		return errs.New(errs.Range, "D card date %v out of range", d.D)
	}
	if d.Satype == SatypeTechnote && (d.E.Date <= 0 || d.E.Date >= 5373484.5) {
		return errs.New(errs.Range, "E card date %v out of range", d.E.Date)
	}
	return nil
}
