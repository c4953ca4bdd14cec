// Package codec provides the compression layers that wrap a tar archive
// stream. The tar codec itself never compresses; callers layer one of these
// around the packed bytes (or the incoming stream) instead.
package codec

import (
	"io"
	"strings"
)

// Codec has methods to create compressor/encoder and decompressor/decoder.
type Codec interface {
	// NewDecoder creates a decoder to decompress contents from the given io.Reader.
	NewDecoder(src io.Reader) (io.ReadCloser, error)
	// NewEncoder creates an encoder to compress contents from the given io.Writer.
	NewEncoder(dst io.Writer) (io.WriteCloser, error)
	// Ext returns the file name extension associated with the codec, e.g. ".gz".
	Ext() string
	// ContentType returns the MIME type of the encoded stream.
	ContentType() string
}

// ForExt returns the codec for the given file name extension, nil if the
// extension names no known codec.
func ForExt(ext string) Codec {
	switch ext {
	case ".gz":
		return GzipCodec{}
	case ".xz":
		return XzCodec{}
	case ".zst":
		return ZstdCodec{}
	default:
		return nil
	}
}

// ForName returns the codec matching the archive file name's extension, e.g.
// "backup.tar.zst" selects zstd. A bare ".tar" (or any unknown extension)
// returns nil, meaning no compression layer.
func ForName(name string) Codec {
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return GzipCodec{}
	case strings.HasSuffix(name, ".tar.xz"):
		return XzCodec{}
	case strings.HasSuffix(name, ".tar.zst"):
		return ZstdCodec{}
	default:
		return nil
	}
}

// ForAlgorithm returns the codec with the given algorithm name, nil when the
// name is unknown.
func ForAlgorithm(name string) Codec {
	switch name {
	case "gzip", "gz":
		return GzipCodec{}
	case "xz":
		return XzCodec{}
	case "zstd", "zst":
		return ZstdCodec{}
	default:
		return nil
	}
}
