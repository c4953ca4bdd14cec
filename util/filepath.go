package util

import "path/filepath"

// StemAndExt is a variant of filepath.Ext that detects extended archive extensions while also returning the stem.
//
// For example, `filepath.Ext("file.tar.gz")` would return ".gz" while StemAndExt returns ".tar.gz" for the extension
// and "file" for the stem, which is what archive naming wants: "file-1.tar.gz" reads better than "file.tar-1.gz".
//
// StemAndExt only accepts file extensions of 5 characters or less per dot segment, so exotic extensions such as
// ".turbot" are not treated as extensions at all.
func StemAndExt(path string) (stem, ext string) {
	n := len(path) - 1
	for i, j := n, max(0, n-6); i >= j; i-- {
		switch path[i] {
		case '\\', '/':
			stem = path[i+1:]
			return
		case '.':
			ext = path[i:] + ext
			path = path[:i]
			n = len(path)
			i, j = n, max(0, n-6)
		}
	}

	stem = filepath.Base(path)
	return
}
