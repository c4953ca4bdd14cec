package s3tar

import (
	"io"
	"log"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"
)

type progressLogger interface {
	io.WriteCloser
}

// logLogger writes progress updates to a log.Logger, throttled so that a fast
// transfer does not flood the output.
type logLogger struct {
	logger  *log.Logger
	rate    *rate.Sometimes
	written int64
	size    int64
}

func newLogLogger(logger *log.Logger, size int64) *logLogger {
	return &logLogger{
		logger: logger,
		rate:   &rate.Sometimes{Interval: 5 * time.Second},
		size:   size,
	}
}

func (l *logLogger) Write(p []byte) (int, error) {
	n := len(p)
	l.written += int64(n)
	l.rate.Do(func() {
		if l.size > 0 {
			l.logger.Printf("transferred %s / %s so far", humanize.IBytes(uint64(l.written)), humanize.IBytes(uint64(l.size)))
		} else {
			l.logger.Printf("transferred %s so far", humanize.IBytes(uint64(l.written)))
		}
	})
	return n, nil
}

func (l *logLogger) Close() error {
	l.logger.Printf("transferred %s in total", humanize.IBytes(uint64(l.written)))
	return nil
}

type noopLogger struct{}

func (noopLogger) Write(p []byte) (int, error) {
	return len(p), nil
}

func (noopLogger) Close() error {
	return nil
}
