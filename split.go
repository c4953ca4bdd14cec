package tar

import "strings"

// splitUSTARPath attempts to express a path longer than the 100-byte name
// field as USTAR prefix + "/" + name, avoiding a PAX record.
//
// The split slash must leave at most 100 bytes after it for the name, at most
// 155 bytes before it for the prefix, and cannot be the path's first byte.
// Searching starts from the prefix capacity and moves left, which maximizes
// the chance of finding a usable slash in paths made of many short
// components. Returns ok == false when the path fits the name field as is or
// when no valid split exists; the caller falls back to PAX in the latter case.
func splitUSTARPath(name string) (prefix, rest string, ok bool) {
	n := len(name)
	if n <= nameSize {
		return "", name, false
	}

	end := prefixSize + 1
	if n < end {
		end = n
	}

	i := strings.LastIndexByte(name[:end], '/')
	if i <= 0 || i == n-1 || i < n-nameSize-1 {
		return "", name, false
	}

	return name[:i], name[i+1:], true
}
