package tar

import (
	"errors"
	"fmt"
	"io"
)

// Reader decodes a tar stream pulled from an io.Reader.
//
// Iterate with Next until io.EOF, reading each regular file's body from the
// Reader itself before advancing. Reader honors the same Strict, Strip,
// Filter, and Map options as Unpacker; StreamTimeout does not apply because a
// pull-model decoder blocks in its transport, not in the codec.
//
// Reader is not safe for concurrent use.
type Reader struct {
	r    io.Reader
	opts UnpackOptions

	remaining int64 // body bytes left in the current entry
	pad       int64 // padding after the current body
	pending   map[string]string
	global    map[string]string
	err       error // sticky
	blk       [blockSize]byte
}

// NewReader returns a Reader decoding the archive supplied by r.
func NewReader(r io.Reader, optFns ...func(*UnpackOptions)) *Reader {
	tr := &Reader{r: r}
	for _, fn := range optFns {
		fn(&tr.opts)
	}

	return tr
}

// Next advances to the next entry and returns its header with PAX overrides
// applied. The remainder of the current entry's body, if any, is skipped.
// io.EOF marks the clean end of the archive; a stream truncated mid-header or
// mid-body fails with ErrUnexpectedEOF.
func (tr *Reader) Next() (*Header, error) {
	if tr.err != nil {
		return nil, tr.err
	}

	hdr, err := tr.next()
	if err != nil {
		tr.err = err
	}

	return hdr, err
}

func (tr *Reader) next() (*Header, error) {
	zeros := 0

	for {
		// finish the previous entry before looking at the next block.
		if n := tr.remaining + tr.pad; n > 0 {
			if _, err := io.CopyN(io.Discard, tr.r, n); err != nil {
				return nil, eofErr(err)
			}

			tr.remaining, tr.pad = 0, 0
		}

		if _, err := io.ReadFull(tr.r, tr.blk[:]); err != nil {
			if err == io.EOF {
				// stream end at a block boundary doubles as the terminator.
				return nil, io.EOF
			}

			return nil, eofErr(err)
		}

		if isZeroBlock(tr.blk[:]) {
			if zeros++; zeros == 2 {
				return nil, io.EOF
			}

			continue
		}
		zeros = 0

		hdr, err := unmarshalHeader(tr.blk[:], tr.opts.Strict)
		if err != nil {
			return nil, err
		}

		switch hdr.Typeflag {
		case TypeXHeader, TypeXGlobalHeader:
			body := make([]byte, hdr.Size)
			if _, err := io.ReadFull(tr.r, body); err != nil {
				return nil, eofErr(err)
			}

			tr.pad = padding(hdr.Size)
			recs := parsePaxRecords(body)
			if hdr.Typeflag == TypeXGlobalHeader {
				if tr.global == nil {
					tr.global = make(map[string]string, len(recs))
				}
				for k, v := range recs {
					tr.global[k] = v
				}
			} else {
				tr.pending = recs
			}

			continue
		}

		mergePax(hdr, tr.takeOverrides())
		tr.remaining = hdr.bodySize()
		tr.pad = padding(tr.remaining)

		delivered, ok := applyUnpackTransforms(hdr, &tr.opts)
		if !ok {
			continue
		}

		return delivered, nil
	}
}

// Read reads the current entry's body, returning io.EOF once all Size bytes
// are consumed.
func (tr *Reader) Read(p []byte) (int, error) {
	if tr.err != nil {
		return 0, tr.err
	}
	if tr.remaining == 0 {
		return 0, io.EOF
	}

	if int64(len(p)) > tr.remaining {
		p = p[:tr.remaining]
	}

	n, err := tr.r.Read(p)
	tr.remaining -= int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			if tr.remaining == 0 {
				// the final body bytes arrived together with the EOF; the body
				// is complete, so this is not a truncation. Next decides
				// whether the stream ended cleanly.
				return n, nil
			}

			err = ErrUnexpectedEOF
		}

		tr.err = err
	}

	return n, err
}

// takeOverrides mirrors Unpacker.takeOverrides for the pull decoder.
func (tr *Reader) takeOverrides() map[string]string {
	if tr.global == nil && tr.pending == nil {
		return nil
	}

	recs := make(map[string]string, len(tr.global)+len(tr.pending))
	for k, v := range tr.global {
		recs[k] = v
	}
	for k, v := range tr.pending {
		recs[k] = v
	}

	tr.pending = nil
	return recs
}

// eofErr normalizes truncation errors from the transport.
func eofErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrUnexpectedEOF
	}

	return fmt.Errorf("tar: read error: %w", err)
}
