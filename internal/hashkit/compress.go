package hashkit

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/rcowham/fossil-go/internal/errs"
)

// Compress encodes data as a 4-byte big-endian length prefix (the original
// uncompressed size) followed by a zlib-deflate stream, matching the blob
// storage framing in §6.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(data)))
	buf.Write(hdr[:])

	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, errs.Wrap(errs.IO, err, "zlib write failed")
	}
	if err := zw.Close(); err != nil {
		return nil, errs.Wrap(errs.IO, err, "zlib close failed")
	}
	return buf.Bytes(), nil
}

// Uncompress is the inverse of Compress: it reads the 4-byte length prefix,
// inflates the remainder, and validates the decoded length against the
// prefix.
func Uncompress(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, errs.New(errs.Consistency, "compressed buffer too short: %d bytes", len(data))
	}
	wantLen := binary.BigEndian.Uint32(data[:4])
	zr, err := zlib.NewReader(bytes.NewReader(data[4:]))
	if err != nil {
		return nil, errs.Wrap(errs.Consistency, err, "invalid zlib stream")
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, errs.Wrap(errs.Consistency, err, "zlib inflate failed")
	}
	if uint32(len(out)) != wantLen {
		return nil, errs.New(errs.SizeMismatch, "decoded length %d != prefix %d", len(out), wantLen)
	}
	return out, nil
}

// IsCompressed reports whether data begins with a plausible length prefix
// and inflates cleanly, i.e. whether it is in the "compressed" blob.content
// form described in §6.
func IsCompressed(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	_, err := Uncompress(data)
	return err == nil
}
