package s3tar

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const (
	// DefaultPartSize is the range size of each GetObject call made by Download.
	DefaultPartSize = int64(8_388_608)

	// DefaultConcurrency is the number of goroutines fetching parts in parallel.
	DefaultConcurrency = 3
)

// DownloadAPIClient abstracts the S3 API needed by Download.
type DownloadAPIClient interface {
	HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(context.Context, *s3.GetObjectInput, ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// DownloadOptions customises Download.
type DownloadOptions struct {
	// PartSize is the range size of each GetObject call.
	//
	// Defaults to DefaultPartSize. Cannot be non-positive.
	PartSize int64

	// Concurrency is the number of goroutines fetching parts in parallel.
	//
	// Parts are always written to the destination in order regardless of concurrency, so the destination can be a
	// streaming consumer such as a tar unpacker. Defaults to DefaultConcurrency. Cannot be non-positive.
	Concurrency int

	// Logger receives throttled progress updates.
	//
	// By default, progress is reported with log.Default. Use NoProgress to turn reporting off.
	Logger *log.Logger

	// NoProgress disables progress reporting entirely.
	NoProgress bool

	// ModifyHeadObjectInput customises the initial HeadObject call that retrieves the object size, for example to
	// add ExpectedBucketOwner.
	ModifyHeadObjectInput func(*s3.HeadObjectInput)

	// ModifyGetObjectInput customises the GetObject call made for each part.
	ModifyGetObjectInput func(*s3.GetObjectInput)
}

// Download streams the S3 object identified by bucket and key to dst using ranged GetObject calls.
//
// Returns the number of bytes written to dst. Parts are fetched concurrently but written strictly in order, so dst
// never sees out-of-order data.
func Download(ctx context.Context, client DownloadAPIClient, bucket, key string, dst io.Writer, optFns ...func(*DownloadOptions)) (int64, error) {
	opts := &DownloadOptions{
		PartSize:    DefaultPartSize,
		Concurrency: DefaultConcurrency,
		Logger:      log.Default(),
	}
	for _, fn := range optFns {
		fn(opts)
	}

	if opts.PartSize <= 0 {
		return 0, fmt.Errorf("partSize (%d) must be greater than 0", opts.PartSize)
	}
	if opts.Concurrency <= 0 {
		return 0, fmt.Errorf("concurrency (%d) must be greater than 0", opts.Concurrency)
	}

	headObjectInput := &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}
	if opts.ModifyHeadObjectInput != nil {
		opts.ModifyHeadObjectInput(headObjectInput)
	}
	headObjectOutput, err := client.HeadObject(ctx, headObjectInput)
	if err != nil {
		return 0, fmt.Errorf("head object error: %w", err)
	}

	size := aws.ToInt64(headObjectOutput.ContentLength)
	if size == 0 {
		return 0, nil
	}

	var progress progressLogger = noopLogger{}
	if !opts.NoProgress {
		progress = newLogLogger(opts.Logger, size)
	}

	partCount := int(math.Ceil(float64(size) / float64(opts.PartSize)))

	d := &downloader{
		client:               client,
		bucket:               bucket,
		key:                  key,
		partCount:            partCount,
		modifyGetObjectInput: opts.ModifyGetObjectInput,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	requests := make(chan fetchRequest, opts.Concurrency)
	results := make(chan fetchResult, opts.Concurrency)
	for i := 0; i < opts.Concurrency; i++ {
		go d.fetchParts(ctx, requests, results)
	}

	go func() {
		defer close(requests)

		for partNumber, start := 1, int64(0); partNumber <= partCount; partNumber, start = partNumber+1, start+opts.PartSize {
			end := min(start+opts.PartSize, size) - 1
			select {
			case requests <- fetchRequest{partNumber, fmt.Sprintf("bytes=%d-%d", start, end)}:
			case <-ctx.Done():
				return
			}
		}
	}()

	// parts may arrive out of order; park them here and flush to dst whenever the next expected part is available.
	parked := make(map[int][]byte, opts.Concurrency)
	var written int64
	for next := 1; next <= partCount; {
		select {
		case result := <-results:
			if result.err != nil {
				return written, result.err
			}

			parked[result.partNumber] = result.data
			for data, ok := parked[next]; ok; data, ok = parked[next] {
				n, err := dst.Write(data)
				written += int64(n)
				if err != nil {
					return written, fmt.Errorf("write part %d/%d error: %w", next, partCount, err)
				}
				_, _ = progress.Write(data)

				delete(parked, next)
				next++
			}
		case <-ctx.Done():
			return written, ctx.Err()
		}
	}

	_ = progress.Close()
	return written, nil
}

type fetchRequest struct {
	partNumber int
	byteRange  string
}

type fetchResult struct {
	partNumber int
	data       []byte
	err        error
}

type downloader struct {
	client               DownloadAPIClient
	bucket, key          string
	partCount            int
	modifyGetObjectInput func(*s3.GetObjectInput)
}

func (d *downloader) fetchParts(ctx context.Context, requests <-chan fetchRequest, results chan<- fetchResult) {
	for {
		select {
		case req, ok := <-requests:
			if !ok {
				return
			}

			getObjectInput := &s3.GetObjectInput{
				Bucket: aws.String(d.bucket),
				Key:    aws.String(d.key),
				Range:  aws.String(req.byteRange),
			}
			if d.modifyGetObjectInput != nil {
				d.modifyGetObjectInput(getObjectInput)
			}

			result := fetchResult{partNumber: req.partNumber}
			if getObjectOutput, err := d.client.GetObject(ctx, getObjectInput); err != nil {
				result.err = fmt.Errorf("get part %d/%d (%s) error: %w", req.partNumber, d.partCount, req.byteRange, err)
			} else {
				result.data, err = io.ReadAll(getObjectOutput.Body)
				_ = getObjectOutput.Body.Close()
				if err != nil {
					result.data = nil
					result.err = fmt.Errorf("read part %d/%d (%s) error: %w", req.partNumber, d.partCount, req.byteRange, err)
				}
			}

			select {
			case results <- result:
			case <-ctx.Done():
				return
			}
			if result.err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
