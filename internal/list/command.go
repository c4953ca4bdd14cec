package list

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
	tar "github.com/paulgaspardo/modern-tar"
	"github.com/paulgaspardo/modern-tar/codec"
	"github.com/paulgaspardo/modern-tar/internal"
	"github.com/paulgaspardo/modern-tar/s3tar"
)

type Command struct {
	Strict bool `long:"strict" description:"verify header checksums and USTAR magic, aborting on violations"`
	Args   struct {
		Archives []flags.Filename `positional-arg-name:"archive" description:"the archives to list, either local files or s3://bucket/key URIs" required:"yes"`
	} `positional-args:"yes"`
}

func (c *Command) Execute(args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("unknown positional arguments: %s", strings.Join(args, " "))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer stop()

	for _, archive := range c.Args.Archives {
		if err := c.list(ctx, string(archive)); err != nil {
			return fmt.Errorf(`list "%s" error: %w`, archive, err)
		}
	}

	return nil
}

func (c *Command) list(ctx context.Context, name string) error {
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

	var opts []func(*tar.UnpackOptions)
	if c.Strict {
		opts = append(opts, tar.WithStrict)
	}

	for tr := tar.NewReader(r, opts...); ; {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		fi := hdr.FileInfo()
		fmt.Printf("%s %-8s %-8s %7s %s %s", fi.Mode(), owner(hdr.Uname, hdr.Uid), owner(hdr.Gname, hdr.Gid), humanize.IBytes(uint64(hdr.Size)), hdr.ModTime.Format("2006-01-02 15:04"), hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeSymlink:
			fmt.Printf(" -> %s", hdr.Linkname)
		case tar.TypeLink:
			fmt.Printf(" link to %s", hdr.Linkname)
		}
		fmt.Println()
	}
}

func owner(name string, id int) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("%d", id)
}

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
				opts.NoProgress = true
			})
			_ = pw.CloseWithError(err)
		}()

		return pr, pr.Close, nil
	}

	f, err := os.Open(name)
	if err != nil {
		return nil, nil, err
	}

	return f, f.Close, nil
}
