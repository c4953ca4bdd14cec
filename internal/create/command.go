package create

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
	tar "github.com/paulgaspardo/modern-tar"
	"github.com/paulgaspardo/modern-tar/codec"
	"github.com/paulgaspardo/modern-tar/internal"
	"github.com/paulgaspardo/modern-tar/s3tar"
	"github.com/paulgaspardo/modern-tar/util"
)

type Command struct {
	Output     string `short:"o" long:"output" description:"the archive to create, either a local file or an s3://bucket/key URI" required:"yes"`
	Algorithm  string `short:"a" long:"algorithm" description:"compression algorithm (gzip, zstd, or xz); by default, inferred from the output name" choice:"gzip" choice:"gz" choice:"zstd" choice:"zst" choice:"xz"`
	Directory  string `short:"C" long:"directory" description:"change to this directory before resolving the paths to archive"`
	NoProgress bool   `long:"no-progress" description:"turn off progress report"`
	Args       struct {
		Paths []flags.Filename `positional-arg-name:"path" description:"the files and directories to archive" required:"yes"`
	} `positional-args:"yes"`
}

func (c *Command) Execute(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown positional arguments: %s", strings.Join(args, " "))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer stop()

	dst, closeDst, err := c.openOutput(ctx)
	if err != nil {
		return err
	}

	var cd codec.Codec
	if c.Algorithm != "" {
		cd = codec.ForAlgorithm(c.Algorithm)
	} else {
		cd = codec.ForName(c.Output)
	}

	w := io.WriteCloser(&util.WriteNoopCloser{Writer: dst})
	if cd != nil {
		if w, err = cd.NewEncoder(dst); err != nil {
			_ = closeDst()
			return fmt.Errorf("create encoder error: %w", err)
		}
	}

	tw := tar.NewWriter(w)
	if err = c.archive(ctx, tw); err != nil {
		_ = closeDst()
		return err
	}

	if err = util.ChainCloser(tw.Close, w.Close, closeDst)(); err != nil {
		return err
	}

	return nil
}

// openOutput opens the archive destination, returning the writer and the function that finalises it.
//
// An s3://bucket/key output streams through an io.Pipe to a multipart upload; the returned closer waits for the
// upload to finish.
func (c *Command) openOutput(ctx context.Context) (io.Writer, func() error, error) {
	if internal.IsS3URI(c.Output) {
		bucket, key, err := internal.ParseS3URI(c.Output)
		if err != nil {
			return nil, nil, err
		}

		client, err := internal.NewS3Client(ctx)
		if err != nil {
			return nil, nil, err
		}

		pr, pw := io.Pipe()
		done := make(chan error, 1)
		go func() {
			err := s3tar.Upload(ctx, client, bucket, key, pr, func(opts *s3tar.UploadOptions) {
				// the archive progress bar already reports byte counts.
				opts.NoProgress = true
			})
			// unblock the writer side if the upload dies early.
			_ = pr.CloseWithError(err)
			done <- err
		}()

		return pw, func() error {
			if err := pw.Close(); err != nil {
				return err
			}
			return <-done
		}, nil
	}

	dir, base := filepath.Split(c.Output)
	if dir == "" {
		dir = "."
	}
	stem, ext := util.StemAndExt(base)
	f, err := util.OpenExclFile(dir, stem, ext, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("create output file error: %w", err)
	}
	if name := f.Name(); name != filepath.Join(dir, base) {
		log.Printf(`"%s" already exists, writing to "%s" instead`, c.Output, name)
	}

	return f, f.Close, nil
}

func (c *Command) archive(ctx context.Context, tw *tar.Writer) error {
	var (
		count int
		total int64
		buf   = make([]byte, 32*1024)
		dst   = io.Writer(tw)
	)

	if !c.NoProgress {
		bar := util.DefaultBytes(-1, "creating archive")
		defer bar.Close()
		dst = io.MultiWriter(tw, bar)
	}

	for _, path := range c.Args.Paths {
		root := string(path)
		if c.Directory != "" {
			root = filepath.Join(c.Directory, root)
		}

		err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			fi, err := d.Info()
			if err != nil {
				return fmt.Errorf(`stat "%s" error: %w`, p, err)
			}

			var link string
			if fi.Mode()&os.ModeSymlink != 0 {
				if link, err = os.Readlink(p); err != nil {
					return fmt.Errorf(`readlink "%s" error: %w`, p, err)
				}
			}

			hdr, err := tar.FileInfoHeader(fi, link)
			if err != nil {
				return fmt.Errorf(`create header for "%s" error: %w`, p, err)
			}
			hdr.Name = c.entryName(p, fi.IsDir())

			if err = tw.WriteHeader(hdr); err != nil {
				return fmt.Errorf(`write header for "%s" error: %w`, p, err)
			}

			if fi.Mode().IsRegular() {
				f, err := os.Open(p)
				if err != nil {
					return fmt.Errorf(`open "%s" error: %w`, p, err)
				}

				n, err := util.CopyBufferWithContext(ctx, dst, f, buf)
				_ = f.Close()
				if err != nil {
					return fmt.Errorf(`archive "%s" error: %w`, p, err)
				}

				total += n
			}

			count++
			return nil
		})
		if err != nil {
			return err
		}
	}

	if !c.NoProgress {
		log.Printf("archived %d entries (%s) in total", count, humanize.IBytes(uint64(total)))
	}
	return nil
}

// entryName converts a filesystem path to the archive member name.
func (c *Command) entryName(p string, isDir bool) string {
	if c.Directory != "" {
		if rel, err := filepath.Rel(c.Directory, p); err == nil {
			p = rel
		}
	}

	name := filepath.ToSlash(p)
	if isDir && !strings.HasSuffix(name, "/") {
		name += "/"
	}
	return name
}
