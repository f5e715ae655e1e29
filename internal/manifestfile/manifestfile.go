// Package manifestfile writes the three manifest-tracking files a
// checkout may keep at its root (manifest, manifest.uuid, manifest.tags)
// per §6's EXTERNAL INTERFACES / Manifest file emission.
package manifestfile

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/rcowham/fossil-go/internal/errs"
)

// Writer owns one target file and the writer currently open on it,
// a filename-plus-io.Writer shape adapted for one-file-at-a-time output.
type Writer struct {
	filename string
	w        io.Writer
	f        *os.File
}

// New returns a Writer bound to filename. Call Create to open it.
func New(filename string) *Writer {
	return &Writer{filename: filename}
}

// Create truncates and opens the target file for writing.
func (j *Writer) Create() error {
	f, err := os.Create(j.filename)
	if err != nil {
		return errs.Wrap(errs.IO, err, "create %s", j.filename)
	}
	j.f = f
	j.w = f
	return nil
}

// SetWriter redirects output to an already-open writer, for tests.
func (j *Writer) SetWriter(w io.Writer) {
	j.w = w
}

// Close closes the underlying file, if Create opened one.
func (j *Writer) Close() error {
	if j.f == nil {
		return nil
	}
	return j.f.Close()
}

// WriteManifest copies artifactText byte-exact, per §6: "byte-exact copy
// of the current checkin's decompressed artifact text."
func (j *Writer) WriteManifest(artifactText []byte) error {
	if _, err := j.w.Write(artifactText); err != nil {
		return errs.Wrap(errs.IO, err, "write manifest to %s", j.filename)
	}
	return nil
}

// WriteManifestUUID writes the checkin's full hash plus a trailing
// newline.
func (j *Writer) WriteManifestUUID(uuid string) error {
	if _, err := fmt.Fprintf(j.w, "%s\n", uuid); err != nil {
		return errs.Wrap(errs.IO, err, "write manifest.uuid to %s", j.filename)
	}
	return nil
}

// WriteManifestTags writes "branch <name>" then one "tag <name>" line per
// applied sym-tag, sorted.
func (j *Writer) WriteManifestTags(branch string, tags []string) error {
	if _, err := fmt.Fprintf(j.w, "branch %s\n", branch); err != nil {
		return errs.Wrap(errs.IO, err, "write manifest.tags branch line")
	}
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)
	for _, t := range sorted {
		if _, err := fmt.Fprintf(j.w, "tag %s\n", t); err != nil {
			return errs.Wrap(errs.IO, err, "write manifest.tags tag line")
		}
	}
	return nil
}

// Mode parses the `manifest` config value ("" / "on" / "1" / any
// combination of "r","u","t") into which files should be emitted. "on"
// and "1" alias "ru".
type Mode struct {
	Raw  bool // write `manifest`
	UUID bool // write `manifest.uuid`
	Tags bool // write `manifest.tags`
}

// ParseMode decodes the `manifest` config string.
func ParseMode(s string) Mode {
	switch s {
	case "", "0", "off":
		return Mode{}
	case "on", "1":
		return Mode{Raw: true, UUID: true}
	}
	var m Mode
	for _, c := range s {
		switch c {
		case 'r':
			m.Raw = true
		case 'u':
			m.UUID = true
		case 't':
			m.Tags = true
		}
	}
	return m
}

func (m Mode) Any() bool { return m.Raw || m.UUID || m.Tags }
