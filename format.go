package tar

import (
	"bytes"
	"strconv"
	"time"
)

// USTAR header block layout. Every field is at a fixed offset inside the
// 512-byte block; numeric fields hold zero-padded octal ASCII terminated by a
// NUL or space.
const (
	offName     = 0   // 100 bytes
	offMode     = 100 // 8 bytes, octal
	offUid      = 108 // 8 bytes, octal
	offGid      = 116 // 8 bytes, octal
	offSize     = 124 // 12 bytes, octal
	offMtime    = 136 // 12 bytes, octal seconds since epoch
	offChksum   = 148 // 8 bytes, octal
	offTypeflag = 156 // 1 byte
	offLinkname = 157 // 100 bytes
	offMagic    = 257 // 6 bytes, "ustar\x00"
	offVersion  = 263 // 2 bytes, "00"
	offUname    = 265 // 32 bytes
	offGname    = 297 // 32 bytes
	offDevmajor = 329 // 8 bytes, octal, unused but zero-filled
	offDevminor = 337 // 8 bytes, octal, unused but zero-filled
	offPrefix   = 345 // 155 bytes
)

var (
	ustarMagic   = []byte("ustar\x00")
	ustarVersion = []byte("00")
)

// marshalHeader encodes h into a single header block. Strings that exceed
// their field are truncated at a character boundary and numbers that exceed
// their field are written as 0; callers needing the exact values must have
// arranged PAX records beforehand.
func marshalHeader(h *Header) []byte {
	b := make([]byte, blockSize)

	name, prefix := h.Name, ""
	if len(name) > nameSize {
		if p, rest, ok := splitUSTARPath(name); ok {
			prefix, name = p, rest
		} else {
			name = truncateUTF8(name, nameSize)
		}
	}

	copy(b[offName:offName+nameSize], name)
	copy(b[offPrefix:offPrefix+prefixSize], prefix)
	copy(b[offLinkname:offLinkname+linknameSize], truncateUTF8(h.Linkname, linknameSize))
	copy(b[offUname:offUname+unameSize], truncateUTF8(h.Uname, unameSize))
	copy(b[offGname:offGname+gnameSize], truncateUTF8(h.Gname, gnameSize))

	formatOctal(b[offMode:offMode+8], h.Mode&07777)
	formatOctal(b[offUid:offUid+8], capNumeric(int64(h.Uid), maxUstarID))
	formatOctal(b[offGid:offGid+8], capNumeric(int64(h.Gid), maxUstarID))
	formatOctal(b[offSize:offSize+12], capNumeric(h.bodySize(), maxUstarSize))
	formatOctal(b[offMtime:offMtime+12], capNumeric(h.ModTime.Unix(), maxUstarSize))
	formatOctal(b[offDevmajor:offDevmajor+8], 0)
	formatOctal(b[offDevminor:offDevminor+8], 0)

	b[offTypeflag] = h.Typeflag
	copy(b[offMagic:], ustarMagic)
	copy(b[offVersion:], ustarVersion)

	// The checksum is computed with its own field read as spaces, then
	// written as six octal digits, a NUL, and a space.
	formatChecksum(b)

	return b
}

// unmarshalHeader decodes one header block. In strict mode a checksum or magic
// violation fails with ErrChecksum or ErrMagic; in lenient mode the block is
// decoded best effort.
func unmarshalHeader(b []byte, strict bool) (*Header, error) {
	if strict {
		if parseOctal(b[offChksum:offChksum+8]) != checksum(b) {
			return nil, ErrChecksum
		}

		if !bytes.Equal(b[offMagic:offMagic+6], ustarMagic) || !bytes.Equal(b[offVersion:offVersion+2], ustarVersion) {
			return nil, ErrMagic
		}
	}

	h := &Header{
		Name:     parseString(b[offName : offName+nameSize]),
		Mode:     parseOctal(b[offMode : offMode+8]),
		Uid:      int(parseOctal(b[offUid : offUid+8])),
		Gid:      int(parseOctal(b[offGid : offGid+8])),
		Size:     parseOctal(b[offSize : offSize+12]),
		ModTime:  time.Unix(parseOctal(b[offMtime:offMtime+12]), 0),
		Typeflag: b[offTypeflag],
		Linkname: parseString(b[offLinkname : offLinkname+linknameSize]),
		Uname:    parseString(b[offUname : offUname+unameSize]),
		Gname:    parseString(b[offGname : offGname+gnameSize]),
	}

	// Pre-USTAR archives use NUL for regular files.
	if h.Typeflag == 0 {
		h.Typeflag = TypeReg
	}

	if prefix := parseString(b[offPrefix : offPrefix+prefixSize]); prefix != "" {
		h.Name = prefix + "/" + h.Name
	}

	return h, nil
}

// checksum sums all 512 bytes of the block as unsigned values, with the
// checksum field itself read as eight ASCII spaces.
func checksum(b []byte) int64 {
	var sum int64
	for i, c := range b[:blockSize] {
		if i >= offChksum && i < offChksum+8 {
			c = ' '
		}

		sum += int64(c)
	}

	return sum
}

func formatChecksum(b []byte) {
	s := strconv.FormatInt(checksum(b), 8)
	f := b[offChksum : offChksum+8]
	for i := 0; i < 6; i++ {
		f[i] = '0'
	}
	copy(f[6-min(len(s), 6):6], s)
	f[6] = 0
	f[7] = ' '
}

// formatOctal writes v into b as zero-padded octal with a trailing NUL. A
// value needing every byte of the field is written full width with no
// terminator, which readers accept. Values that do not fit at all are written
// as 0; the caller is responsible for having emitted a PAX record instead.
func formatOctal(b []byte, v int64) {
	if v < 0 {
		v = 0
	}

	s := strconv.FormatInt(v, 8)
	switch {
	case len(s) < len(b):
		for i := 0; i < len(b)-1; i++ {
			b[i] = '0'
		}
		copy(b[len(b)-1-len(s):], s)
		b[len(b)-1] = 0
	case len(s) == len(b):
		copy(b, s)
	default:
		formatOctal(b, 0)
	}
}

// parseOctal reads an octal numeric field, accepting NUL or space terminators
// and leading padding. Empty and unparseable fields decode to 0.
func parseOctal(b []byte) int64 {
	s := string(bytes.Trim(b, " \x00"))
	if s == "" {
		return 0
	}

	v, err := strconv.ParseInt(s, 8, 64)
	if err != nil {
		return 0
	}

	return v
}

// parseString reads a NUL-terminated string field.
func parseString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}

	return string(b)
}

// capNumeric returns v when it fits the field's representable range, else 0
// (the PAX record carries the real value).
func capNumeric(v, max int64) int64 {
	if v < 0 || v > max {
		return 0
	}

	return v
}
