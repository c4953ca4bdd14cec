package tar

import (
	"fmt"
	"io"
	"time"
)

// Writer packs logical entries into a tar byte stream.
//
// Call WriteHeader for each entry, then Write exactly Header.Size body bytes
// for regular files, and finally Close to emit the archive terminator.
// Whenever a header field exceeds a USTAR limit, Writer transparently emits a
// PAX extension entry before the entry itself. Entries appear in the output in
// the exact order they are written; back pressure is whatever the underlying
// io.Writer applies.
//
// Writer is not safe for concurrent use.
type Writer struct {
	w         io.Writer
	remaining int64 // body bytes the caller still owes for the current entry
	pad       int64 // zero bytes owed after the current body
	closed    bool
	err       error // sticky; once set, every call returns it
}

// NewWriter returns a Writer emitting the archive to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteHeader begins a new entry.
//
// The header's zero values are defaulted: Typeflag to TypeReg, ModTime to the
// current time, Mode to 0644 (0755 for directories). Only regular files may be
// followed by body bytes; for every other type the body is empty on the wire
// regardless of Size. Returns an error if the previous entry's body is
// incomplete.
func (tw *Writer) WriteHeader(hdr *Header) error {
	switch {
	case tw.closed:
		return ErrWriteAfterClose
	case tw.err != nil:
		return tw.err
	case tw.remaining > 0:
		return fmt.Errorf("tar: missed writing %d bytes of entry body", tw.remaining)
	}

	if tw.err = tw.writePadding(); tw.err != nil {
		return tw.err
	}

	h := *hdr
	if h.Typeflag == 0 {
		h.Typeflag = TypeReg
	}
	if h.ModTime.IsZero() {
		h.ModTime = time.Now()
	}
	if h.Mode == 0 {
		if h.Typeflag == TypeDir {
			h.Mode = 0755
		} else {
			h.Mode = 0644
		}
	}

	if recs := paxRecordsFor(&h); len(recs) > 0 {
		body, err := buildPaxBody(recs)
		if err != nil {
			tw.err = err
			return err
		}

		if err = tw.writeEntry(marshalHeader(newPaxHeader(&h, len(body))), body); err != nil {
			tw.err = err
			return err
		}
	}

	if _, tw.err = tw.w.Write(marshalHeader(&h)); tw.err != nil {
		return tw.err
	}

	tw.remaining = h.bodySize()
	tw.pad = padding(tw.remaining)
	return nil
}

// Write writes body bytes of the current entry. Writing more than the header's
// Size announced fails with ErrWriteTooLong.
func (tw *Writer) Write(p []byte) (int, error) {
	switch {
	case tw.closed:
		return 0, ErrWriteAfterClose
	case tw.err != nil:
		return 0, tw.err
	}

	overflow := false
	if int64(len(p)) > tw.remaining {
		p, overflow = p[:tw.remaining], true
	}

	n, err := tw.w.Write(p)
	tw.remaining -= int64(n)
	if err != nil {
		tw.err = err
	} else if overflow {
		err = ErrWriteTooLong
	}

	return n, err
}

// Close pads the final entry and emits the two zero blocks terminating the
// archive. It does not close the underlying io.Writer.
func (tw *Writer) Close() error {
	switch {
	case tw.closed:
		return ErrWriteAfterClose
	case tw.err != nil:
		return tw.err
	case tw.remaining > 0:
		return fmt.Errorf("tar: missed writing %d bytes of entry body", tw.remaining)
	}

	tw.closed = true
	if tw.err = tw.writePadding(); tw.err != nil {
		return tw.err
	}

	for i := 0; i < 2; i++ {
		if _, tw.err = tw.w.Write(zeroBlock[:]); tw.err != nil {
			return tw.err
		}
	}

	return nil
}

// writeEntry emits a fully-formed header block plus padded body, used for the
// synthetic PAX entries whose body the Writer owns.
func (tw *Writer) writeEntry(block, body []byte) error {
	if _, err := tw.w.Write(block); err != nil {
		return err
	}
	if _, err := tw.w.Write(body); err != nil {
		return err
	}
	if n := padding(int64(len(body))); n > 0 {
		if _, err := tw.w.Write(zeroBlock[:n]); err != nil {
			return err
		}
	}

	return nil
}

func (tw *Writer) writePadding() error {
	if tw.pad == 0 {
		return nil
	}

	_, err := tw.w.Write(zeroBlock[:tw.pad])
	tw.pad = 0
	return err
}
