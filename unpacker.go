package tar

import (
	"strings"
	"sync"
	"time"
)

// Handler receives the events of one decode session.
//
// For every delivered entry the callbacks fire strictly in OnHeader, zero or
// more OnData, OnEndEntry order, never interleaved with another entry's
// callbacks. OnError fires at most once; no callback follows it. Handlers must
// not call back into the Unpacker that is driving them.
type Handler interface {
	// OnHeader announces the next entry, with any PAX overrides already
	// applied and Strip/Filter/Map already performed.
	OnHeader(hdr *Header)

	// OnData delivers a chunk of the current entry's body. The slice is only
	// valid for the duration of the call.
	OnData(p []byte)

	// OnEndEntry marks the current entry's body (and padding) fully consumed.
	OnEndEntry()

	// OnError reports a fatal decode error; the session is dead afterwards.
	OnError(err error)
}

// UnpackOptions customises a decode session.
type UnpackOptions struct {
	// Strict enables header checksum and USTAR magic verification. Violations
	// abort the session; the default lenient mode decodes best effort.
	Strict bool

	// Strip removes this many leading path components from every delivered
	// entry's name. Entries with no components left are skipped entirely
	// (their bodies are still consumed to keep stream position).
	Strip int

	// Filter, when set, rejects entries: a false return skips the entry, body
	// included, without delivering any callback for it.
	Filter func(hdr *Header) bool

	// Map, when set, transforms each header after Filter and before delivery.
	Map func(hdr *Header) *Header

	// StreamTimeout is how long the Unpacker tolerates no chunk arriving
	// before aborting with ErrStalled. Zero means the 5-second default; a
	// negative value disables stall detection.
	StreamTimeout time.Duration
}

// DefaultStreamTimeout is the stall window used when UnpackOptions.StreamTimeout
// is zero.
const DefaultStreamTimeout = 5 * time.Second

// WithStrict enables strict header verification.
func WithStrict(o *UnpackOptions) {
	o.Strict = true
}

// WithStrip returns an option removing n leading path components.
func WithStrip(n int) func(*UnpackOptions) {
	return func(o *UnpackOptions) {
		o.Strip = n
	}
}

// WithFilter returns an option installing an entry predicate.
func WithFilter(fn func(hdr *Header) bool) func(*UnpackOptions) {
	return func(o *UnpackOptions) {
		o.Filter = fn
	}
}

// WithMap returns an option installing a header transform.
func WithMap(fn func(hdr *Header) *Header) func(*UnpackOptions) {
	return func(o *UnpackOptions) {
		o.Map = fn
	}
}

// WithStreamTimeout returns an option overriding the stall window.
func WithStreamTimeout(d time.Duration) func(*UnpackOptions) {
	return func(o *UnpackOptions) {
		o.StreamTimeout = d
	}
}

// Unpacker decodes a tar stream pushed to it in arbitrarily-sized chunks.
//
// Unpacker implements io.WriteCloser so any transport that can write to a
// stream can drive it: every Write consumes a chunk and fires whatever events
// became complete, and Close signals end of stream. A transport that stops
// delivering chunks for longer than the configured StreamTimeout aborts the
// session with ErrStalled.
type Unpacker struct {
	handler Handler
	opts    UnpackOptions

	mu    sync.Mutex
	state int
	buf   []byte // unconsumed bytes carried across Write calls
	err   error  // fatal; reported to the handler exactly once

	remaining int64 // body bytes left in the current entry
	pad       int64 // padding bytes left after the current body
	zeros     int   // consecutive all-zero header blocks seen

	// Body routing for the current entry: exactly one of these modes applies.
	paxBuf    []byte // non-nil while consuming a PAX entry's body
	paxGlobal bool   // the PAX entry being consumed is a global one
	skipping  bool   // entry was filtered or stripped away; discard its body

	pending map[string]string // stashed PAX overrides for the next entry
	global  map[string]string // accumulated global PAX records

	timer *time.Timer
	last  time.Time // time of the most recent chunk arrival
}

const (
	stateHeader = iota // accumulating a 512-byte header block
	stateBody          // consuming the current entry's body
	statePad           // discarding padding up to the block boundary
	stateDone          // archive terminator seen; remaining input ignored
	stateErr           // fatal error delivered; session dead
)

// NewUnpacker starts a decode session delivering events to handler.
func NewUnpacker(handler Handler, optFns ...func(*UnpackOptions)) *Unpacker {
	u := &Unpacker{
		handler: handler,
		opts:    UnpackOptions{StreamTimeout: DefaultStreamTimeout},
	}
	for _, fn := range optFns {
		fn(&u.opts)
	}

	if u.opts.StreamTimeout == 0 {
		u.opts.StreamTimeout = DefaultStreamTimeout
	}

	if u.opts.StreamTimeout > 0 {
		u.last = time.Now()
		u.timer = time.AfterFunc(u.opts.StreamTimeout, u.stall)
	}

	return u
}

// Write consumes the next chunk of the stream, firing handler callbacks for
// everything that completes. It never retains p past the call.
func (u *Unpacker) Write(p []byte) (int, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch u.state {
	case stateErr:
		return 0, u.err
	case stateDone:
		// trailing bytes after the terminator are ignored, like most tar
		// implementations do.
		return len(p), nil
	}

	if u.timer != nil {
		u.last = time.Now()
		u.timer.Reset(u.opts.StreamTimeout)
	}

	u.buf = append(u.buf, p...)
	u.run()
	if u.state == stateErr {
		return len(p), u.err
	}

	return len(p), nil
}

// Close signals end of stream. A stream ending cleanly (at a header boundary
// or after the zero-block terminator) returns nil; one ending mid-header or
// mid-body reports ErrUnexpectedEOF to the handler and returns it.
func (u *Unpacker) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.timer != nil {
		u.timer.Stop()
	}

	switch u.state {
	case stateErr:
		return u.err
	case stateDone:
		return nil
	case stateHeader:
		if len(u.buf) == 0 {
			u.state = stateDone
			u.release()
			return nil
		}
	}

	u.fail(ErrUnexpectedEOF)
	return u.err
}

// run consumes as much of the buffer as the state machine allows.
func (u *Unpacker) run() {
	for u.state != stateDone && u.state != stateErr {
		switch u.state {
		case stateHeader:
			if len(u.buf) < blockSize {
				return
			}

			block := u.buf[:blockSize]
			u.buf = u.buf[blockSize:]
			u.consumeHeader(block)

		case stateBody:
			if len(u.buf) == 0 {
				return
			}

			n := int64(len(u.buf))
			if n > u.remaining {
				n = u.remaining
			}

			chunk := u.buf[:n]
			switch {
			case u.paxBuf != nil:
				u.paxBuf = append(u.paxBuf, chunk...)
			case u.skipping:
				// consumed but never delivered.
			default:
				u.handler.OnData(chunk)
			}

			u.buf = u.buf[n:]
			if u.remaining -= n; u.remaining == 0 {
				u.state = statePad
			}

		case statePad:
			if u.pad > 0 {
				n := int64(len(u.buf))
				if n == 0 {
					return
				}
				if n > u.pad {
					n = u.pad
				}

				u.buf = u.buf[n:]
				u.pad -= n
				if u.pad > 0 {
					return
				}
			}

			u.endEntry()
		}
	}
}

// consumeHeader decodes one header block and decides what the following bytes
// mean.
func (u *Unpacker) consumeHeader(block []byte) {
	if isZeroBlock(block) {
		if u.zeros++; u.zeros == 2 {
			u.state = stateDone
			u.release()
			if u.timer != nil {
				u.timer.Stop()
			}
		}

		return
	}
	u.zeros = 0

	hdr, err := unmarshalHeader(block, u.opts.Strict)
	if err != nil {
		u.fail(err)
		return
	}

	switch hdr.Typeflag {
	case TypeXHeader, TypeXGlobalHeader:
		u.paxBuf = make([]byte, 0, hdr.Size)
		u.paxGlobal = hdr.Typeflag == TypeXGlobalHeader
		u.skipping = false
		u.beginBody(hdr.Size)
		return
	}

	// A real entry: fold in stashed overrides, then apply the delivery
	// options. Overrides apply to this entry only. The wire body length is
	// fixed before Map runs so a transform cannot desynchronise the stream.
	mergePax(hdr, u.takeOverrides())
	wire := hdr.bodySize()

	u.paxBuf = nil
	delivered, ok := applyUnpackTransforms(hdr, &u.opts)
	u.skipping = !ok

	if ok {
		u.handler.OnHeader(delivered)
	}

	u.beginBody(wire)
}

// beginBody transitions into body consumption for a wire body of n bytes.
func (u *Unpacker) beginBody(n int64) {
	u.remaining = n
	u.pad = padding(n)
	if n > 0 {
		u.state = stateBody
	} else {
		u.state = statePad
	}
}

// endEntry completes the current entry and returns to expecting a header.
func (u *Unpacker) endEntry() {
	switch {
	case u.paxBuf != nil:
		recs := parsePaxRecords(u.paxBuf)
		u.paxBuf = nil
		if u.paxGlobal {
			if u.global == nil {
				u.global = make(map[string]string, len(recs))
			}
			for k, v := range recs {
				u.global[k] = v
			}
		} else {
			u.pending = recs
		}

	case u.skipping:
		u.skipping = false

	default:
		u.handler.OnEndEntry()
	}

	u.state = stateHeader
}

// takeOverrides merges global records with the pending per-entry stash,
// clearing the stash. Per-entry records win over global ones.
func (u *Unpacker) takeOverrides() map[string]string {
	if u.global == nil && u.pending == nil {
		return nil
	}

	recs := make(map[string]string, len(u.global)+len(u.pending))
	for k, v := range u.global {
		recs[k] = v
	}
	for k, v := range u.pending {
		recs[k] = v
	}

	u.pending = nil
	return recs
}

func (u *Unpacker) fail(err error) {
	if u.state == stateErr || u.state == stateDone {
		return
	}

	u.state = stateErr
	u.err = err
	u.release()
	if u.timer != nil {
		u.timer.Stop()
	}

	u.handler.OnError(err)
}

// stall fires from the timeout timer when no chunk arrived within the window.
func (u *Unpacker) stall() {
	u.mu.Lock()
	defer u.mu.Unlock()

	// a chunk may have slipped in between the timer firing and this goroutine
	// taking the lock; only a genuinely idle window counts as a stall.
	if idle := time.Since(u.last); idle < u.opts.StreamTimeout {
		if u.state != stateDone && u.state != stateErr {
			u.timer.Reset(u.opts.StreamTimeout - idle)
		}

		return
	}

	u.fail(ErrStalled)
}

// release drops buffered partial state once the session can no longer use it.
func (u *Unpacker) release() {
	u.buf = nil
	u.paxBuf = nil
	u.pending = nil
	u.global = nil
}

// applyUnpackTransforms runs Strip, Filter, and Map over a decoded header.
// The second return is false when the entry should be skipped.
func applyUnpackTransforms(hdr *Header, opts *UnpackOptions) (*Header, bool) {
	if opts.Strip > 0 {
		name, ok := stripComponents(hdr.Name, opts.Strip)
		if !ok {
			return hdr, false
		}

		hdr.Name = name
	}

	if opts.Filter != nil && !opts.Filter(hdr) {
		return hdr, false
	}

	if opts.Map != nil {
		if mapped := opts.Map(hdr); mapped != nil {
			hdr = mapped
		}
	}

	return hdr, true
}

// stripComponents removes n leading slash-delimited components from name.
// Names consumed entirely by the strip report ok == false and the entry is
// skipped, mirroring what tar --strip-components does.
func stripComponents(name string, n int) (string, bool) {
	trailingSlash := strings.HasSuffix(name, "/")

	for ; n > 0; n-- {
		i := strings.IndexByte(name, '/')
		if i < 0 {
			return "", false
		}

		name = name[i+1:]
	}

	if name == "" || (trailingSlash && name == "/") {
		return "", false
	}

	return name, true
}
