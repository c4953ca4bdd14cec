package codec

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodecRoundTrip(t *testing.T) {
	data := make([]byte, 64*1024)
	_, err := io.ReadFull(rand.Reader, data)
	assert.NoError(t, err)

	tests := []struct {
		name  string
		codec Codec
	}{
		{name: "gzip", codec: GzipCodec{}},
		{name: "zstd", codec: ZstdCodec{}},
		{name: "xz", codec: XzCodec{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			enc, err := tt.codec.NewEncoder(&buf)
			assert.NoError(t, err)
			_, err = enc.Write(data)
			assert.NoError(t, err)
			assert.NoError(t, enc.Close())

			dec, err := tt.codec.NewDecoder(&buf)
			assert.NoError(t, err)

			got, err := io.ReadAll(dec)
			assert.NoError(t, err)
			assert.NoError(t, dec.Close())
			assert.Equal(t, data, got)
		})
	}
}

func TestForName(t *testing.T) {
	tests := []struct {
		name string
		want Codec
	}{
		{name: "backup.tar.gz", want: GzipCodec{}},
		{name: "backup.tgz", want: GzipCodec{}},
		{name: "backup.tar.xz", want: XzCodec{}},
		{name: "backup.tar.zst", want: ZstdCodec{}},
		{name: "backup.tar", want: nil},
		{name: "backup.zip", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ForName(tt.name))
		})
	}
}

func TestForAlgorithm(t *testing.T) {
	assert.Equal(t, GzipCodec{}, ForAlgorithm("gzip"))
	assert.Equal(t, ZstdCodec{}, ForAlgorithm("zstd"))
	assert.Equal(t, XzCodec{}, ForAlgorithm("xz"))
	assert.Nil(t, ForAlgorithm("lzma"))
}
