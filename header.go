package tar

import (
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"
)

// Header describes one logical entry of a tar archive.
//
// Header is the data contract both for packing (give one to [Writer.WriteHeader])
// and unpacking (receive one from [Reader.Next] or [Handler.OnHeader]). Zero
// values are filled with sensible defaults on encode: Mode becomes 0644 (0755
// for directories), ModTime becomes the encode time, Typeflag becomes TypeReg.
type Header struct {
	// Name is the entry's path inside the archive, always slash-separated.
	// There is no length limit; names that do not fit USTAR's name and prefix
	// fields are carried in a PAX record.
	Name string

	// Size is the byte length of the entry's body. Only regular files carry
	// body bytes on the wire; for every other type the body is empty.
	Size int64

	// Mode holds the permission bits.
	Mode int64

	// ModTime is the modification time, truncated to seconds on the wire.
	ModTime time.Time

	// Typeflag is one of the Type constants. The zero value is treated as
	// TypeReg when encoding.
	Typeflag byte

	// Uid and Gid identify the owner. Values beyond the USTAR octal field
	// limit are carried in PAX records as decimal.
	Uid int
	Gid int

	// Uname and Gname are the symbolic owner names.
	Uname string
	Gname string

	// Linkname is the target of a hard link or symlink entry.
	Linkname string

	// PAXRecords holds extension attributes. When packing, these are merged
	// into the generated PAX entry verbatim, after (and thus overriding) the
	// records the encoder computes itself. When unpacking, this holds every
	// record that applied to the entry.
	PAXRecords map[string]string
}

// FileInfoHeader builds a Header from an fs.FileInfo.
//
// The Name is fi.Name() only; callers packing a directory tree are expected to
// overwrite it with the full slash-separated path. If fi describes a symlink,
// link is recorded as the target.
func FileInfoHeader(fi fs.FileInfo, link string) (*Header, error) {
	h := &Header{
		Name:    fi.Name(),
		Mode:    int64(fi.Mode().Perm()),
		ModTime: fi.ModTime(),
	}

	switch mode := fi.Mode(); {
	case mode.IsRegular():
		h.Typeflag = TypeReg
		h.Size = fi.Size()
	case mode.IsDir():
		h.Typeflag = TypeDir
		h.Name += "/"
	case mode&fs.ModeSymlink != 0:
		h.Typeflag = TypeSymlink
		h.Linkname = link
	case mode&fs.ModeDevice != 0:
		if mode&fs.ModeCharDevice != 0 {
			h.Typeflag = TypeChar
		} else {
			h.Typeflag = TypeBlock
		}
	case mode&fs.ModeNamedPipe != 0:
		h.Typeflag = TypeFifo
	default:
		return nil, fmt.Errorf(`tar: unsupported file mode %v of "%s"`, mode, fi.Name())
	}

	return h, nil
}

// FileInfo returns an fs.FileInfo view of the header, suitable for handing to
// filesystem-materialization code.
func (h *Header) FileInfo() fs.FileInfo {
	return headerFileInfo{h}
}

type headerFileInfo struct {
	h *Header
}

func (fi headerFileInfo) Name() string {
	if fi.IsDir() {
		return path.Base(path.Clean(fi.h.Name))
	}

	return path.Base(fi.h.Name)
}

func (fi headerFileInfo) Size() int64        { return fi.h.Size }
func (fi headerFileInfo) ModTime() time.Time { return fi.h.ModTime }
func (fi headerFileInfo) IsDir() bool        { return fi.Mode().IsDir() }
func (fi headerFileInfo) Sys() any           { return fi.h }

func (fi headerFileInfo) Mode() fs.FileMode {
	mode := fs.FileMode(fi.h.Mode).Perm()

	switch fi.h.Typeflag {
	case TypeLink:
		// no fs.FileMode bit for hard links; report as a regular file.
	case TypeSymlink:
		mode |= fs.ModeSymlink
	case TypeChar:
		mode |= fs.ModeDevice | fs.ModeCharDevice
	case TypeBlock:
		mode |= fs.ModeDevice
	case TypeDir:
		mode |= fs.ModeDir
	case TypeFifo:
		mode |= fs.ModeNamedPipe
	}

	if strings.HasSuffix(fi.h.Name, "/") {
		mode |= fs.ModeDir
	}

	return mode
}

// hasBody reports whether an entry with this header is followed by body bytes
// on the wire. Only regular files (and the PAX entries this package manages
// internally) carry bodies; link, directory, and device entries never do, no
// matter what their size field claims.
func (h *Header) hasBody() bool {
	switch h.Typeflag {
	case TypeLink, TypeSymlink, TypeDir, TypeChar, TypeBlock, TypeFifo:
		return false
	default:
		return h.Size > 0
	}
}

// bodySize returns the number of body bytes that follow the header on the wire.
func (h *Header) bodySize() int64 {
	if !h.hasBody() {
		return 0
	}

	return h.Size
}
