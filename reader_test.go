package tar

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
)

// packEntries builds an archive in memory for decoder tests.
func packEntries(t *testing.T, entries []testEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	tw := NewWriter(&buf)
	for i := range entries {
		assert.NoError(t, tw.WriteHeader(&entries[i].hdr))
		if entries[i].body != "" {
			_, err := io.WriteString(tw, entries[i].body)
			assert.NoError(t, err)
		}
	}
	assert.NoError(t, tw.Close())

	return buf.Bytes()
}

type testEntry struct {
	hdr  Header
	body string
}

func TestReaderRoundTrip(t *testing.T) {
	mtime := time.Unix(1700000000, 0)
	entries := []testEntry{
		{
			hdr:  Header{Name: "docs/readme.md", Typeflag: TypeReg, Size: 5, Mode: 0640, ModTime: mtime, Uid: 501, Gid: 20, Uname: "dev", Gname: "staff"},
			body: "largo",
		},
		{
			hdr: Header{Name: "docs/", Typeflag: TypeDir, Mode: 0750, ModTime: mtime},
		},
		{
			hdr: Header{Name: "docs/link", Typeflag: TypeSymlink, Linkname: "readme.md", Mode: 0777, ModTime: mtime},
		},
		{
			hdr: Header{Name: "docs/hard", Typeflag: TypeLink, Linkname: "docs/readme.md", Mode: 0640, ModTime: mtime},
		},
		{
			hdr:  Header{Name: "unicode/名前.txt", Typeflag: TypeReg, Size: 9, Mode: 0644, ModTime: mtime},
			body: "ユニコ"[:9],
		},
		{
			hdr:  Header{Name: "custom", Typeflag: TypeReg, Size: 2, Mode: 0644, ModTime: mtime, PAXRecords: map[string]string{"comment": "héllo", "vendor.key": "v"}},
			body: "ok",
		},
	}

	tr := NewReader(bytes.NewReader(packEntries(t, entries)), WithStrict)

	for _, want := range entries {
		got, err := tr.Next()
		assert.NoError(t, err)
		assert.Equal(t, want.hdr.Name, got.Name)
		assert.Equal(t, want.hdr.Typeflag, got.Typeflag)
		assert.Equal(t, want.hdr.Mode, got.Mode)
		assert.Equal(t, want.hdr.Linkname, got.Linkname)
		assert.Equal(t, want.hdr.Uid, got.Uid)
		assert.Equal(t, want.hdr.Gid, got.Gid)
		assert.Equal(t, want.hdr.Uname, got.Uname)
		assert.Equal(t, want.hdr.Gname, got.Gname)
		assert.Equal(t, mtime.Unix(), got.ModTime.Unix())

		if want.body != "" {
			data, err := io.ReadAll(tr)
			assert.NoError(t, err)
			assert.Equal(t, want.body, string(data))
		}

		for k, v := range want.hdr.PAXRecords {
			assert.Equal(t, v, got.PAXRecords[k])
		}
	}

	_, err := tr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderLongNameExample(t *testing.T) {
	// name of 200 a's + "/test.txt" cannot split, so it travels as a PAX
	// path record and must round-trip exactly.
	name := strings.Repeat("a", 200) + "/test.txt"
	archive := packEntries(t, []testEntry{
		{hdr: Header{Name: name, Size: 4, ModTime: time.Unix(0, 0)}, body: "pax!"},
	})

	tr := NewReader(bytes.NewReader(archive))
	got, err := tr.Next()
	assert.NoError(t, err)
	assert.Equal(t, name, got.Name)
	assert.Equal(t, name, got.PAXRecords["path"])

	data, err := io.ReadAll(tr)
	assert.NoError(t, err)
	assert.Equal(t, "pax!", string(data))
}

func TestReaderBigIDsExample(t *testing.T) {
	// 8388608 is one past the USTAR numeric limit and must surface as decimal
	// PAX records.
	archive := packEntries(t, []testEntry{
		{hdr: Header{Name: "f", Uid: maxUstarID + 1, Gid: maxUstarID + 1, ModTime: time.Unix(0, 0)}},
	})

	got, err := NewReader(bytes.NewReader(archive)).Next()
	assert.NoError(t, err)
	assert.Equal(t, 8388608, got.Uid)
	assert.Equal(t, 8388608, got.Gid)
	assert.Equal(t, "8388608", got.PAXRecords["uid"])
	assert.Equal(t, "8388608", got.PAXRecords["gid"])
}

func TestReaderStrip(t *testing.T) {
	archive := packEntries(t, []testEntry{
		{hdr: Header{Name: "root/sub/file.txt", Size: 2, ModTime: time.Unix(0, 0)}, body: "hi"},
		{hdr: Header{Name: "root/top.txt", Size: 2, ModTime: time.Unix(0, 0)}, body: "yo"},
	})

	tr := NewReader(bytes.NewReader(archive), WithStrip(2))

	// only the first entry has enough components to survive a strip of 2.
	got, err := tr.Next()
	assert.NoError(t, err)
	assert.Equal(t, "file.txt", got.Name)

	_, err = tr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderFilterAndMap(t *testing.T) {
	archive := packEntries(t, []testEntry{
		{hdr: Header{Name: "keep.txt", Size: 4, ModTime: time.Unix(0, 0)}, body: "keep"},
		{hdr: Header{Name: "drop.bin", Size: 4, ModTime: time.Unix(0, 0)}, body: "drop"},
		{hdr: Header{Name: "also.txt", Size: 4, ModTime: time.Unix(0, 0)}, body: "also"},
	})

	tr := NewReader(bytes.NewReader(archive),
		WithFilter(func(hdr *Header) bool { return strings.HasSuffix(hdr.Name, ".txt") }),
		WithMap(func(hdr *Header) *Header {
			hdr.Name = "out/" + hdr.Name
			return hdr
		}))

	got, err := tr.Next()
	assert.NoError(t, err)
	assert.Equal(t, "out/keep.txt", got.Name)

	// the filtered entry's body must still be consumed so the stream stays
	// aligned for the entry after it.
	got, err = tr.Next()
	assert.NoError(t, err)
	assert.Equal(t, "out/also.txt", got.Name)

	data, err := io.ReadAll(tr)
	assert.NoError(t, err)
	assert.Equal(t, "also", string(data))

	_, err = tr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderGlobalHeader(t *testing.T) {
	// a pax global header applies to all subsequent entries, with per-entry
	// records taking precedence.
	var buf bytes.Buffer

	global, err := formatPaxRecord("vendor.tag", "global")
	assert.NoError(t, err)
	gh := marshalHeader(&Header{
		Name:     "pax_global_header",
		Size:     int64(len(global)),
		Mode:     0644,
		ModTime:  time.Unix(0, 0),
		Typeflag: TypeXGlobalHeader,
	})
	buf.Write(gh)
	buf.WriteString(global)
	buf.Write(zeroBlock[:padding(int64(len(global)))])

	tw := NewWriter(&buf)
	assert.NoError(t, tw.WriteHeader(&Header{Name: "one", ModTime: time.Unix(0, 0)}))
	assert.NoError(t, tw.WriteHeader(&Header{
		Name:       "two",
		ModTime:    time.Unix(0, 0),
		PAXRecords: map[string]string{"vendor.tag": "local"},
	}))
	assert.NoError(t, tw.Close())

	tr := NewReader(bytes.NewReader(buf.Bytes()))

	one, err := tr.Next()
	assert.NoError(t, err)
	assert.Equal(t, "global", one.PAXRecords["vendor.tag"])

	two, err := tr.Next()
	assert.NoError(t, err)
	assert.Equal(t, "local", two.PAXRecords["vendor.tag"])
}

func TestReaderTruncated(t *testing.T) {
	archive := packEntries(t, []testEntry{
		{hdr: Header{Name: "f", Size: 600, ModTime: time.Unix(0, 0)}, body: strings.Repeat("x", 600)},
	})

	t.Run("mid header", func(t *testing.T) {
		_, err := NewReader(bytes.NewReader(archive[:100])).Next()
		assert.ErrorIs(t, err, ErrUnexpectedEOF)
	})

	t.Run("mid body", func(t *testing.T) {
		tr := NewReader(bytes.NewReader(archive[:700]))
		_, err := tr.Next()
		assert.NoError(t, err)

		_, err = io.ReadAll(tr)
		assert.ErrorIs(t, err, ErrUnexpectedEOF)
	})

	t.Run("clean end without terminator", func(t *testing.T) {
		// header + 600-byte body padded to 1024.
		tr := NewReader(bytes.NewReader(archive[:512+1024]))
		_, err := tr.Next()
		assert.NoError(t, err)

		_, err = tr.Next()
		assert.ErrorIs(t, err, io.EOF)
	})
}

func TestReaderBodyDeliveredWithEOF(t *testing.T) {
	// a transport may hand over the final body bytes and io.EOF in the same
	// Read. With the body complete that is not a truncation, and an archive
	// ending at the block boundary still finishes with a clean io.EOF.
	archive := packEntries(t, []testEntry{
		{hdr: Header{Name: "f", Size: 512, ModTime: time.Unix(0, 0)}, body: strings.Repeat("x", 512)},
	})

	// header + exactly one body block, terminator cut off.
	tr := NewReader(iotest.DataErrReader(bytes.NewReader(archive[:1024])))
	_, err := tr.Next()
	assert.NoError(t, err)

	data, err := io.ReadAll(tr)
	assert.NoError(t, err)
	assert.Len(t, data, 512)

	_, err = tr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderStrictChecksum(t *testing.T) {
	archive := packEntries(t, []testEntry{
		{hdr: Header{Name: "f", Size: 2, ModTime: time.Unix(0, 0)}, body: "ab"},
	})
	archive[0] ^= 0xff

	_, err := NewReader(bytes.NewReader(archive), WithStrict).Next()
	assert.ErrorIs(t, err, ErrChecksum)

	got, err := NewReader(bytes.NewReader(archive)).Next()
	assert.NoError(t, err)
	assert.EqualValues(t, 2, got.Size)
}
