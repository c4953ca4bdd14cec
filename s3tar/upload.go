package s3tar

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// UploadOptions customises Upload.
type UploadOptions struct {
	// PartSize is the multipart upload part size.
	//
	// Defaults to manager.DefaultUploadPartSize. Cannot be non-positive.
	PartSize int64

	// Concurrency is the number of goroutines uploading parts in parallel.
	//
	// Defaults to manager.DefaultUploadConcurrency. Cannot be non-positive.
	Concurrency int

	// Logger receives throttled progress updates.
	//
	// By default, progress is reported with log.Default. Use NoProgress to turn reporting off.
	Logger *log.Logger

	// NoProgress disables progress reporting entirely.
	NoProgress bool

	// ModifyPutObjectInput customises the PutObject input, for example to add ExpectedBucketOwner or change the
	// storage class.
	ModifyPutObjectInput func(*s3.PutObjectInput)
}

// Upload streams src, typically the read end of an io.Pipe being fed a tar archive, to the S3 object identified by
// bucket and key using multipart upload.
//
// The object is written with Content-Type application/x-tar and Intelligent-Tiering storage class unless
// UploadOptions.ModifyPutObjectInput overrides them.
func Upload(ctx context.Context, client manager.UploadAPIClient, bucket, key string, src io.Reader, optFns ...func(*UploadOptions)) error {
	opts := &UploadOptions{
		PartSize:    manager.DefaultUploadPartSize,
		Concurrency: manager.DefaultUploadConcurrency,
		Logger:      log.Default(),
	}
	for _, fn := range optFns {
		fn(opts)
	}

	if opts.PartSize <= 0 {
		return fmt.Errorf("partSize (%d) must be greater than 0", opts.PartSize)
	}
	if opts.Concurrency <= 0 {
		return fmt.Errorf("concurrency (%d) must be greater than 0", opts.Concurrency)
	}

	var progress progressLogger = noopLogger{}
	if !opts.NoProgress {
		// the archive is being produced as it is consumed, so the total size is unknown.
		progress = newLogLogger(opts.Logger, -1)
	}

	putObjectInput := &s3.PutObjectInput{
		Bucket:       aws.String(bucket),
		Key:          aws.String(key),
		Body:         io.TeeReader(src, progress),
		ContentType:  aws.String("application/x-tar"),
		StorageClass: s3types.StorageClassIntelligentTiering,
	}
	if opts.ModifyPutObjectInput != nil {
		opts.ModifyPutObjectInput(putObjectInput)
	}

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = opts.PartSize
		u.Concurrency = opts.Concurrency
	})
	if _, err := uploader.Upload(ctx, putObjectInput); err != nil {
		return fmt.Errorf("upload to s3 error: %w", err)
	}

	_ = progress.Close()
	return nil
}
