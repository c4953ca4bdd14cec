package tar

import (
	"fmt"
	"strconv"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestPaxRecordsForTriggers(t *testing.T) {
	tests := []struct {
		name     string
		hdr      Header
		wantKeys []string
	}{
		{
			name:     "everything within limits",
			hdr:      Header{Name: "file.txt", Size: 10, Uid: maxUstarID, Gid: maxUstarID},
			wantKeys: nil,
		},
		{
			name:     "long name with no viable split",
			hdr:      Header{Name: strings.Repeat("a", 200) + "/test.txt"},
			wantKeys: []string{"path"},
		},
		{
			name:     "long name with viable split stays USTAR",
			hdr:      Header{Name: strings.Repeat("a", 80) + "/" + strings.Repeat("b", 80)},
			wantKeys: nil,
		},
		{
			name:     "long linkname",
			hdr:      Header{Name: "l", Typeflag: TypeSymlink, Linkname: strings.Repeat("t", 101)},
			wantKeys: []string{"linkpath"},
		},
		{
			name:     "long uname and gname",
			hdr:      Header{Name: "f", Uname: strings.Repeat("u", 33), Gname: strings.Repeat("g", 33)},
			wantKeys: []string{"uname", "gname"},
		},
		{
			name:     "uid and gid one past the octal limit",
			hdr:      Header{Name: "f", Uid: maxUstarID + 1, Gid: maxUstarID + 1},
			wantKeys: []string{"uid", "gid"},
		},
		{
			name:     "huge size",
			hdr:      Header{Name: "f", Size: maxUstarSize + 1},
			wantKeys: []string{"size"},
		},
		{
			name:     "user records merged in",
			hdr:      Header{Name: "f", PAXRecords: map[string]string{"comment": "hi", "atime": "123"}},
			wantKeys: []string{"atime", "comment"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs := paxRecordsFor(&tt.hdr)

			keys := make([]string, 0, len(recs))
			for _, r := range recs {
				keys = append(keys, r.key)
			}

			assert.ElementsMatch(t, tt.wantKeys, keys)
		})
	}
}

func TestPaxRecordsForUserOverride(t *testing.T) {
	// user-supplied records win over computed ones when keys collide.
	h := Header{
		Name:       strings.Repeat("a", 200) + "/test.txt",
		PAXRecords: map[string]string{"path": "overridden"},
	}

	recs := paxRecordsFor(&h)
	assert.Len(t, recs, 1)
	assert.Equal(t, "path", recs[0].key)
	assert.Equal(t, "overridden", recs[0].value)
}

func TestFormatPaxRecordSelfLength(t *testing.T) {
	// sweep value lengths across the decimal digit-count boundary where the
	// provisional length gains a digit and a second measurement pass is
	// needed.
	for n := 80; n <= 120; n++ {
		t.Run(fmt.Sprintf("value length %d", n), func(t *testing.T) {
			record, err := formatPaxRecord("k", strings.Repeat("v", n))
			assert.NoError(t, err)

			sp := strings.IndexByte(record, ' ')
			declared, err := strconv.Atoi(record[:sp])
			assert.NoError(t, err)
			assert.Equal(t, len(record), declared)
			assert.True(t, strings.HasSuffix(record, "\n"))
		})
	}
}

func TestFormatPaxRecordMultibyte(t *testing.T) {
	// byte length, not rune count, governs the record length.
	record, err := formatPaxRecord("path", "héllo/wörld")
	assert.NoError(t, err)

	sp := strings.IndexByte(record, ' ')
	declared, _ := strconv.Atoi(record[:sp])
	assert.Equal(t, len(record), declared)
}

func TestTruncateUTF8(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{name: "short string untouched", in: "abc", limit: 100, want: "abc"},
		{name: "ascii cut at limit", in: strings.Repeat("a", 10), limit: 5, want: "aaaaa"},
		{name: "two-byte char at boundary", in: "aaaé", limit: 4, want: "aaa"},
		{name: "two-byte char before boundary", in: "aaé", limit: 4, want: "aaé"},
		{name: "three-byte char straddling", in: "a日本", limit: 5, want: "a日"},
		{name: "four-byte char straddling", in: "ab𝄞", limit: 4, want: "ab"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := truncateUTF8(tt.in, tt.limit)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
			assert.LessOrEqual(t, len(got), tt.limit)
		})
	}
}

func TestNewPaxHeaderNameTruncation(t *testing.T) {
	h := &Header{Name: "x" + strings.Repeat("é", 60)} // 121 bytes
	ph := newPaxHeader(h, 42)

	assert.Equal(t, byte(TypeXHeader), ph.Typeflag)
	assert.EqualValues(t, 42, ph.Size)
	assert.EqualValues(t, 0644, ph.Mode)
	assert.LessOrEqual(t, len(ph.Name), nameSize)
	assert.True(t, utf8.ValidString(ph.Name))
	assert.True(t, strings.HasPrefix(ph.Name, paxHeaderPrefix))
}

func TestParsePaxRecords(t *testing.T) {
	t.Run("well formed", func(t *testing.T) {
		body := "14 path=a/b/c\n16 uid=12345678\n"
		recs := parsePaxRecords([]byte(body))
		assert.Equal(t, map[string]string{"path": "a/b/c", "uid": "12345678"}, recs)
	})

	t.Run("round trips generated records", func(t *testing.T) {
		r1, _ := formatPaxRecord("path", strings.Repeat("n", 150))
		r2, _ := formatPaxRecord("size", "9999999999")
		recs := parsePaxRecords([]byte(r1 + r2))
		assert.Equal(t, strings.Repeat("n", 150), recs["path"])
		assert.Equal(t, "9999999999", recs["size"])
	})

	t.Run("malformed record does not corrupt the rest", func(t *testing.T) {
		good1, _ := formatPaxRecord("uname", "alice")
		good2, _ := formatPaxRecord("gname", "staff")

		tests := []struct {
			name string
			body string
		}{
			{name: "non numeric length", body: good1 + "xx path=bad\n" + good2},
			{name: "missing equals", body: good1 + "8 nokey\n" + good2},
			{name: "length not ending on newline", body: good1 + "11 path=badX" + good2},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				recs := parsePaxRecords([]byte(tt.body))
				assert.Equal(t, "alice", recs["uname"])
			})
		}
	})

	t.Run("declared length overrunning body stops cleanly", func(t *testing.T) {
		good, _ := formatPaxRecord("path", "ok")
		recs := parsePaxRecords([]byte(good + "999 path=oops\n"))
		assert.Equal(t, map[string]string{"path": "ok"}, recs)
	})

	t.Run("empty body", func(t *testing.T) {
		assert.Empty(t, parsePaxRecords(nil))
	})
}

func TestMergePax(t *testing.T) {
	h := &Header{Name: "short", Size: 1, Uid: 3, Gid: 4}
	mergePax(h, map[string]string{
		"path":     "the/real/name",
		"linkpath": "lnk",
		"uid":      "9000000",
		"gid":      "9000001",
		"size":     "77",
		"uname":    "u",
		"gname":    "g",
		"custom":   "kept",
	})

	assert.Equal(t, "the/real/name", h.Name)
	assert.Equal(t, "lnk", h.Linkname)
	assert.Equal(t, 9000000, h.Uid)
	assert.Equal(t, 9000001, h.Gid)
	assert.EqualValues(t, 77, h.Size)
	assert.Equal(t, "u", h.Uname)
	assert.Equal(t, "g", h.Gname)
	assert.Equal(t, "kept", h.PAXRecords["custom"])
}

func TestMergePaxBadNumbersIgnored(t *testing.T) {
	h := &Header{Size: 42, Uid: 7}
	mergePax(h, map[string]string{"size": "not-a-number", "uid": "ditto"})

	assert.EqualValues(t, 42, h.Size)
	assert.Equal(t, 7, h.Uid)
}
