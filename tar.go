// Package tar encodes and decodes tar archives in the USTAR wire format with
// PAX extensions.
//
// The package provides three entry points:
//
//   - [Writer] packs logical entries into the archive byte stream, emitting PAX
//     extension entries whenever a field does not fit USTAR's fixed-width
//     limits.
//   - [Reader] is the pull-style decoder: call Next to advance to each entry,
//     then read its body.
//   - [Unpacker] is the push-style decoder: feed it arbitrarily-sized chunks
//     from any transport and it drives a caller-supplied [Handler] with header,
//     data, and end-of-entry events.
//
// Archives produced by Writer are byte-for-byte compatible with standard tar
// implementations. Decoding is lenient by default, tolerating bad checksums and
// missing USTAR magic; strict mode rejects both.
//
// Compression is deliberately not part of this package; layer a codec from the
// codec subpackage (or any other io stream wrapper) around the archive stream.
package tar

import "errors"

// Type flags for Header.Typeflag.
const (
	TypeReg           = '0' // regular file
	TypeLink          = '1' // hard link
	TypeSymlink       = '2' // symbolic link
	TypeChar          = '3' // character device node
	TypeBlock         = '4' // block device node
	TypeDir           = '5' // directory
	TypeFifo          = '6' // fifo node
	TypeXHeader       = 'x' // PAX extended header, applies to the next entry
	TypeXGlobalHeader = 'g' // PAX global header, applies to all subsequent entries
)

const (
	// blockSize is the unit of everything in a tar stream: headers are one
	// block, bodies are padded up to a multiple of it.
	blockSize = 512

	// Fixed USTAR field capacities in bytes.
	nameSize     = 100
	linknameSize = 100
	prefixSize   = 155
	unameSize    = 32
	gnameSize    = 32

	// maxUstarID is the largest uid/gid representable in the 8-byte octal
	// uid/gid fields (the full field width with no terminator). Anything
	// larger goes into a PAX record as decimal.
	maxUstarID = 1<<23 - 1 // 8,388,607

	// maxUstarSize is the largest body size representable in the 12-byte
	// octal size field (11 octal digits plus terminator).
	maxUstarSize = 1<<33 - 1 // 8 GiB - 1
)

// paxHeaderPrefix prefixes the synthetic name of every PAX extension entry
// this package writes.
const paxHeaderPrefix = "PaxHeader/"

// Well-known PAX record keys understood by the decoder.
const (
	paxPath     = "path"
	paxLinkpath = "linkpath"
	paxUname    = "uname"
	paxGname    = "gname"
	paxUid      = "uid"
	paxGid      = "gid"
	paxSize     = "size"
)

var (
	// ErrChecksum is returned in strict mode when a header block's stored
	// checksum disagrees with the sum of its bytes.
	ErrChecksum = errors.New("tar: header checksum mismatch")

	// ErrMagic is returned in strict mode when a header block does not carry
	// the USTAR magic and version.
	ErrMagic = errors.New("tar: invalid ustar magic")

	// ErrStalled is reported by an Unpacker whose transport stopped supplying
	// bytes for longer than the configured stream timeout.
	ErrStalled = errors.New("tar: stream stalled")

	// ErrUnexpectedEOF is reported when the stream ends in the middle of a
	// header block or entry body.
	ErrUnexpectedEOF = errors.New("tar: unexpected end of stream")

	// ErrWriteTooLong is returned by Writer.Write when more body bytes are
	// written than the current entry's header announced.
	ErrWriteTooLong = errors.New("tar: write too long")

	// ErrWriteAfterClose is returned by Writer methods once Close has been
	// called.
	ErrWriteAfterClose = errors.New("tar: write after close")
)

// zeroBlock is used both to emit padding and the archive terminator, and to
// detect all-zero blocks while decoding.
var zeroBlock [blockSize]byte

func isZeroBlock(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}

	return true
}

// padding returns the number of zero bytes that follow a body of n bytes to
// reach the next block boundary.
func padding(n int64) int64 {
	return -n & (blockSize - 1)
}
