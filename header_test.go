package tar

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFileInfoHeader(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "file.txt")
	assert.NoError(t, os.WriteFile(name, []byte("content"), 0640))

	fi, err := os.Stat(name)
	assert.NoError(t, err)

	hdr, err := FileInfoHeader(fi, "")
	assert.NoError(t, err)
	assert.Equal(t, "file.txt", hdr.Name)
	assert.EqualValues(t, TypeReg, hdr.Typeflag)
	assert.EqualValues(t, 7, hdr.Size)
	assert.Equal(t, fi.ModTime(), hdr.ModTime)

	di, err := os.Stat(dir)
	assert.NoError(t, err)

	hdr, err = FileInfoHeader(di, "")
	assert.NoError(t, err)
	assert.EqualValues(t, TypeDir, hdr.Typeflag)
	assert.True(t, hdr.Name[len(hdr.Name)-1] == '/')
}

func TestHeaderFileInfo(t *testing.T) {
	tests := []struct {
		name     string
		hdr      Header
		wantName string
		wantDir  bool
		wantMode fs.FileMode
	}{
		{
			name:     "regular file",
			hdr:      Header{Name: "a/b/file.txt", Size: 3, Mode: 0644, Typeflag: TypeReg},
			wantName: "file.txt",
			wantMode: 0644,
		},
		{
			name:     "directory",
			hdr:      Header{Name: "a/b/", Mode: 0755, Typeflag: TypeDir},
			wantName: "b",
			wantDir:  true,
			wantMode: 0755 | fs.ModeDir,
		},
		{
			name:     "symlink",
			hdr:      Header{Name: "ln", Mode: 0777, Typeflag: TypeSymlink, Linkname: "t"},
			wantName: "ln",
			wantMode: 0777 | fs.ModeSymlink,
		},
		{
			name:     "fifo",
			hdr:      Header{Name: "pipe", Mode: 0600, Typeflag: TypeFifo},
			wantName: "pipe",
			wantMode: 0600 | fs.ModeNamedPipe,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.hdr.ModTime = time.Unix(1700000000, 0)
			fi := tt.hdr.FileInfo()

			assert.Equal(t, tt.wantName, fi.Name())
			assert.Equal(t, tt.wantDir, fi.IsDir())
			assert.Equal(t, tt.wantMode, fi.Mode())
			assert.Equal(t, tt.hdr.Size, fi.Size())
			assert.Same(t, &tt.hdr, fi.Sys())
		})
	}
}

func TestBodySizeByType(t *testing.T) {
	// only regular files carry bodies on the wire, no matter what the size
	// field claims.
	for _, flag := range []byte{TypeLink, TypeSymlink, TypeDir, TypeChar, TypeBlock, TypeFifo} {
		h := Header{Typeflag: flag, Size: 99}
		assert.EqualValues(t, 0, h.bodySize(), "typeflag %c", flag)
	}

	h := Header{Typeflag: TypeReg, Size: 99}
	assert.EqualValues(t, 99, h.bodySize())
}
