package extract

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
	tar "github.com/paulgaspardo/modern-tar"
	"github.com/paulgaspardo/modern-tar/codec"
	"github.com/paulgaspardo/modern-tar/internal"
	"github.com/paulgaspardo/modern-tar/s3tar"
	"github.com/paulgaspardo/modern-tar/util"
)

type Command struct {
	Directory  string        `short:"C" long:"directory" description:"extract into this directory instead of the working directory"`
	Strip      int           `long:"strip-components" description:"remove this many leading path components from every entry"`
	Strict     bool          `long:"strict" description:"verify header checksums and USTAR magic, aborting on violations"`
	Timeout    time.Duration `long:"timeout" description:"abort if the source stops delivering data for this long; 0 uses the default, negative disables" default:"0s"`
	NoProgress bool          `long:"no-progress" description:"turn off progress report"`
	Args       struct {
		Archives []flags.Filename `positional-arg-name:"archive" description:"the archives to extract, either local files or s3://bucket/key URIs" required:"yes"`
	} `positional-args:"yes"`
}

func (c *Command) Execute(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown positional arguments: %s", strings.Join(args, " "))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer stop()

	n := len(c.Args.Archives)
	for i, archive := range c.Args.Archives {
		if err := c.extract(ctx, string(archive)); err != nil {
			return fmt.Errorf(`%d/%d: extract "%s" error: %w`, i+1, n, archive, err)
		}

		log.Printf(`%d/%d: successfully extracted "%s"`, i+1, n, archive)
	}

	return nil
}

func (c *Command) extract(ctx context.Context, name string) error {
	src, closeSrc, err := c.openSource(ctx, name)
	if err != nil {
		return err
	}
	defer closeSrc()

	r := io.Reader(src)
	if cd := codec.ForName(name); cd != nil {
		dec, err := cd.NewDecoder(src)
		if err != nil {
			return fmt.Errorf("create decoder error: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	h := &fsHandler{dir: c.Directory}

	opts := []func(*tar.UnpackOptions){
		tar.WithStrip(c.Strip),
		tar.WithStreamTimeout(c.Timeout),
	}
	if c.Strict {
		opts = append(opts, tar.WithStrict)
	}

	u := tar.NewUnpacker(h, opts...)
	if _, err = util.CopyBufferWithContext(ctx, u, r, nil); err != nil {
		_ = u.Close()
		return err
	}
	if err = u.Close(); err != nil {
		return err
	}
	if h.err != nil {
		return h.err
	}

	if !c.NoProgress {
		log.Printf("extracted %d entries (%s) in total", h.count, humanize.IBytes(uint64(h.written)))
	}
	return nil
}

// openSource opens the archive source, local file or ranged S3 download.
func (c *Command) openSource(ctx context.Context, name string) (io.Reader, func() error, error) {
	if internal.IsS3URI(name) {
		bucket, key, err := internal.ParseS3URI(name)
		if err != nil {
			return nil, nil, err
		}

		client, err := internal.NewS3Client(ctx)
		if err != nil {
			return nil, nil, err
		}

		pr, pw := io.Pipe()
		go func() {
			_, err := s3tar.Download(ctx, client, bucket, key, pw, func(opts *s3tar.DownloadOptions) {
				opts.NoProgress = c.NoProgress
			})
			_ = pw.CloseWithError(err)
		}()

		return pr, pr.Close, nil
	}

	f, err := os.Open(name)
	if err != nil {
		return nil, nil, err
	}

	if c.NoProgress {
		return f, f.Close, nil
	}

	bar := util.FileProgressBar(f, util.TruncateRightWithSuffix(filepath.Base(name), 30, "..."))
	return io.TeeReader(f, bar), util.ChainCloser(f.Close, bar.Close), nil
}

// fsHandler materialises decoded entries onto the filesystem.
//
// The callbacks never return errors, so the first failure is remembered and
// every subsequent entry is skipped; the driver inspects err after Close.
type fsHandler struct {
	dir string

	file    *os.File
	current *tar.Header
	count   int
	written int64
	err     error
}

var _ tar.Handler = (*fsHandler)(nil)

func (h *fsHandler) OnHeader(hdr *tar.Header) {
	if h.err != nil {
		return
	}

	path, err := h.securePath(hdr.Name)
	if err != nil {
		h.err = err
		return
	}

	mode := hdr.FileInfo().Mode()
	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(path, mode.Perm()); err != nil {
			h.err = fmt.Errorf(`create directory "%s" error: %w`, path, err)
		}
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			h.err = fmt.Errorf(`create parent directory for "%s" error: %w`, path, err)
			return
		}

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
		if err != nil {
			h.err = fmt.Errorf(`create file "%s" error: %w`, path, err)
			return
		}

		h.file = f
		h.current = hdr
	case tar.TypeSymlink:
		if err := h.secureLink(hdr.Linkname); err != nil {
			h.err = err
			return
		}
		_ = os.Remove(path)
		if err := os.Symlink(hdr.Linkname, path); err != nil {
			h.err = fmt.Errorf(`create symlink "%s" error: %w`, path, err)
		}
	case tar.TypeLink:
		target, err := h.securePath(hdr.Linkname)
		if err != nil {
			h.err = err
			return
		}
		_ = os.Remove(path)
		if err := os.Link(target, path); err != nil {
			h.err = fmt.Errorf(`create hard link "%s" error: %w`, path, err)
		}
	default:
		// character/block devices, fifos, and unknown types are skipped; their
		// bodies are still consumed by the decoder.
		log.Printf(`skipping "%s" with unsupported type %q`, hdr.Name, hdr.Typeflag)
	}
}

func (h *fsHandler) OnData(p []byte) {
	if h.err != nil || h.file == nil {
		return
	}

	n, err := h.file.Write(p)
	h.written += int64(n)
	if err != nil {
		h.err = fmt.Errorf(`write to "%s" error: %w`, h.file.Name(), err)
	}
}

func (h *fsHandler) OnEndEntry() {
	if h.file != nil {
		name := h.file.Name()
		if err := h.file.Close(); err != nil && h.err == nil {
			h.err = fmt.Errorf(`close "%s" error: %w`, name, err)
		}
		if h.current != nil && !h.current.ModTime.IsZero() {
			_ = os.Chtimes(name, time.Time{}, h.current.ModTime)
		}

		h.file = nil
		h.current = nil
	}

	if h.err == nil {
		h.count++
	}
}

func (h *fsHandler) OnError(err error) {
	if h.file != nil {
		_ = h.file.Close()
		h.file = nil
	}
}

// securePath joins name under the output directory, refusing names that would
// escape it.
func (h *fsHandler) securePath(name string) (string, error) {
	name = filepath.FromSlash(strings.TrimSuffix(name, "/"))
	if name == "." {
		if h.dir != "" {
			return h.dir, nil
		}
		return ".", nil
	}
	if name == "" || !filepath.IsLocal(name) {
		return "", fmt.Errorf(`entry name "%s" escapes the output directory`, name)
	}

	if h.dir != "" {
		return filepath.Join(h.dir, name), nil
	}
	return name, nil
}

// secureLink rejects symlink targets that point outside the output directory.
func (h *fsHandler) secureLink(target string) error {
	if target == "" || filepath.IsAbs(target) {
		return fmt.Errorf(`symlink target "%s" escapes the output directory`, target)
	}
	return nil
}
