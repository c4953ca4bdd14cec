package util

import (
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

// DefaultBytes returns a progress bar counting towards size bytes, rendered to stderr. Pass size -1 for a spinner when
// the total is unknown.
func DefaultBytes(size int64, description string, options ...progressbar.Option) io.WriteCloser {
	opts := append([]progressbar.Option{
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(10),
		progressbar.OptionThrottle(65 * time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			_, _ = os.Stderr.WriteString("\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	}, options...)

	return progressbar.NewOptions64(size, opts...)
}

// FileProgressBar returns a progress bar sized to the given file, for use while reading it.
func FileProgressBar(f *os.File, description string, options ...progressbar.Option) io.WriteCloser {
	var size int64 = -1

	if fi, err := f.Stat(); err == nil {
		size = fi.Size()
	}

	return DefaultBytes(size, description, options...)
}
