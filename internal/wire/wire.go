package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const version byte = 1

var (
	ErrCorrupt = errors.New("skycache: corrupt snapshot envelope")
	magic4     = [...]byte{'S', 'K', 'Y', 'C'}
)

const hdr = 4 + 1 + 8 + 4

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Envelope: magic(4) | ver(1) | storedAt unix-nanos(u64 be) | vlen(u32 be) | payload(vlen)
//
// storedAt travels with the payload so staleness can be judged even on
// providers that ignore per-entry TTLs.
func Encode(storedAtUnixNano int64, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(hdr + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(storedAtUnixNano))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// Decode is strict: the buffer must contain exactly one envelope, no trailing
// bytes. The returned payload subslices b (zero-copy).
func Decode(b []byte) (storedAtUnixNano int64, payload []byte, err error) {
	if len(b) < hdr || !hasMagic(b) || b[4] != version {
		return 0, nil, ErrCorrupt
	}

	off := 5

	storedAtUnixNano = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return 0, nil, ErrCorrupt
	}

	return storedAtUnixNano, b[off : off+vlen], nil
}
