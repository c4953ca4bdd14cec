package tar

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"unicode/utf8"
)

// paxRecord is one "<length> <key>=<value>\n" line of a PAX entry body.
type paxRecord struct {
	key, value string
}

// paxRecordsFor decides which of h's fields exceed USTAR's fixed-width limits
// and returns the PAX records needed to carry them, followed by any
// user-supplied records. User records come last so that on decode (last write
// wins) they override the computed ones, matching the encoder's documented
// contract. User records are emitted in sorted key order for deterministic
// output. An empty return means the header goes out as plain USTAR.
func paxRecordsFor(h *Header) []paxRecord {
	var recs []paxRecord

	add := func(key, value string) {
		for i, r := range recs {
			if r.key == key {
				recs[i].value = value
				return
			}
		}

		recs = append(recs, paxRecord{key, value})
	}

	if len(h.Name) > nameSize {
		if _, _, ok := splitUSTARPath(h.Name); !ok {
			add(paxPath, h.Name)
		}
	}
	if len(h.Linkname) > linknameSize {
		add(paxLinkpath, h.Linkname)
	}
	if len(h.Uname) > unameSize {
		add(paxUname, h.Uname)
	}
	if len(h.Gname) > gnameSize {
		add(paxGname, h.Gname)
	}
	if h.Uid > maxUstarID {
		add(paxUid, strconv.Itoa(h.Uid))
	}
	if h.Gid > maxUstarID {
		add(paxGid, strconv.Itoa(h.Gid))
	}
	if h.Size > maxUstarSize {
		add(paxSize, strconv.FormatInt(h.Size, 10))
	}

	if len(h.PAXRecords) > 0 {
		keys := make([]string, 0, len(h.PAXRecords))
		for k := range h.PAXRecords {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			add(k, h.PAXRecords[k])
		}
	}

	return recs
}

// formatPaxRecord serializes one record as "<length> <key>=<value>\n" where
// length counts every byte of the line including its own decimal digits. The
// self-reference is resolved by a fixed-point loop: appending the provisional
// length can push the total across a power-of-ten boundary and grow the digit
// count, so the measurement is repeated until it stabilizes. Two passes
// suffice in practice; the iteration cap is a guard against that assumption
// breaking.
func formatPaxRecord(key, value string) (string, error) {
	size := len(key) + len(value) + len(" =\n")
	size += len(strconv.Itoa(size))

	for i := 0; i < 3; i++ {
		record := strconv.Itoa(size) + " " + key + "=" + value + "\n"
		if len(record) == size {
			return record, nil
		}

		size = len(record)
	}

	return "", fmt.Errorf("tar: pax record length for key %q did not converge", key)
}

// buildPaxBody serializes records into the body of a PAX extension entry.
func buildPaxBody(recs []paxRecord) ([]byte, error) {
	var buf bytes.Buffer
	for _, r := range recs {
		line, err := formatPaxRecord(r.key, r.value)
		if err != nil {
			return nil, err
		}

		buf.WriteString(line)
	}

	return buf.Bytes(), nil
}

// newPaxHeader builds the header of the synthetic PAX entry that precedes h.
// The entry's name is "PaxHeader/" plus the real name, cut at the 100-byte
// field limit without splitting a multi-byte character.
func newPaxHeader(h *Header, bodyLen int) *Header {
	return &Header{
		Name:     truncateUTF8(paxHeaderPrefix+h.Name, nameSize),
		Size:     int64(bodyLen),
		Mode:     0644,
		ModTime:  h.ModTime,
		Typeflag: TypeXHeader,
		Uid:      h.Uid,
		Gid:      h.Gid,
		Uname:    h.Uname,
		Gname:    h.Gname,
	}
}

// truncateUTF8 cuts s to at most n bytes, rounding down to the nearest
// complete-character boundary so the result is never invalid UTF-8.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}

	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}

	return s[:n]
}

// parsePaxRecords decodes a PAX entry body into its key/value records.
//
// Each record must carry a decimal byte length covering the whole line
// including the trailing newline. Malformed records (bad length prefix, no
// terminating newline, missing '=') are skipped rather than failing the
// decode: a single corrupt record should not lose the rest of the archive.
func parsePaxRecords(body []byte) map[string]string {
	recs := make(map[string]string)

	for len(body) > 0 {
		sp := bytes.IndexByte(body, ' ')
		if sp <= 0 {
			body = skipPaxLine(body)
			continue
		}

		n, err := strconv.Atoi(string(body[:sp]))
		if err != nil || n <= sp+1 {
			body = skipPaxLine(body)
			continue
		}

		if n > len(body) {
			// declared length overruns the body; nothing left to salvage.
			break
		}

		line := body[:n]
		body = body[n:]
		if line[n-1] != '\n' {
			continue
		}

		kv := line[sp+1 : n-1]
		eq := bytes.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}

		recs[string(kv[:eq])] = string(kv[eq+1:])
	}

	return recs
}

// skipPaxLine advances past the next newline, dropping one malformed record.
func skipPaxLine(body []byte) []byte {
	if i := bytes.IndexByte(body, '\n'); i >= 0 {
		return body[i+1:]
	}

	return nil
}

// mergePax folds PAX records into the header they precede: well-known keys
// override the USTAR-decoded fields, and the raw records are kept on
// h.PAXRecords for the consumer. Numeric values that fail to parse are
// ignored, keeping the USTAR-encoded value.
func mergePax(h *Header, recs map[string]string) {
	if len(recs) == 0 {
		return
	}

	for k, v := range recs {
		switch k {
		case paxPath:
			h.Name = v
		case paxLinkpath:
			h.Linkname = v
		case paxUname:
			h.Uname = v
		case paxGname:
			h.Gname = v
		case paxUid:
			if id, err := strconv.Atoi(v); err == nil {
				h.Uid = id
			}
		case paxGid:
			if id, err := strconv.Atoi(v); err == nil {
				h.Gid = id
			}
		case paxSize:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				h.Size = n
			}
		}
	}

	h.PAXRecords = recs
}
