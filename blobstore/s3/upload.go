package s3

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hupe1980/geofuse/internal/hash"
)

// ContentType is set on every object the store writes. Columns and
// manifests are both opaque to S3.
const ContentType = "application/octet-stream"

// errAborted is the upload error after Abort.
var errAborted = errors.New("s3: upload aborted")

// UploadConfig configures how the store writes objects.
type UploadConfig struct {
	// PartSize is the multipart part size for streamed columns.
	// Default: 8MB.
	PartSize int64

	// Concurrency is the number of parts uploaded in parallel.
	// Default: 5.
	Concurrency int

	// EnableChecksum asks S3 to verify CRC32C on streamed uploads.
	// Small Puts always carry a CRC32C. Default: true.
	EnableChecksum bool

	// LeavePartsOnError keeps the parts of a failed multipart upload.
	// Default: false.
	LeavePartsOnError bool

	// StorageClass is applied to every object. Empty uses the bucket
	// default. Archives that are mostly written once and read for audits
	// may use types.StorageClassStandardIa.
	StorageClass types.StorageClass
}

// DefaultUploadConfig returns the default upload settings.
func DefaultUploadConfig() UploadConfig {
	return UploadConfig{
		PartSize:       8 << 20,
		Concurrency:    5,
		EnableChecksum: true,
	}
}

func newUploader(client Client, cfg UploadConfig) *manager.Uploader {
	return manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = cfg.PartSize
		u.Concurrency = cfg.Concurrency
		u.LeavePartsOnError = cfg.LeavePartsOnError
	})
}

// computeCRC32C returns data's CRC32C in the base64 big-endian form S3
// expects in ChecksumCRC32C.
func computeCRC32C(data []byte) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], hash.CRC32C(data))
	return base64.StdEncoding.EncodeToString(b[:])
}

// put writes a small object in one request with a CRC32C S3 verifies.
func (s *Store) put(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:         aws.String(s.bucket),
		Key:            aws.String(key),
		Body:           bytes.NewReader(data),
		ContentLength:  aws.Int64(int64(len(data))),
		ContentType:    aws.String(ContentType),
		ChecksumCRC32C: aws.String(computeCRC32C(data)),
		StorageClass:   s.cfg.StorageClass,
	})
	return err
}

// upload streams writes through a pipe into a background manager upload.
// The object exists once Close returns nil.
type upload struct {
	pw   *io.PipeWriter
	done chan error

	once sync.Once
	err  error
}

func (s *Store) startUpload(ctx context.Context, key string) *upload {
	pr, pw := io.Pipe()
	u := &upload{pw: pw, done: make(chan error, 1)}

	in := &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         pr,
		ContentType:  aws.String(ContentType),
		StorageClass: s.cfg.StorageClass,
	}
	if s.cfg.EnableChecksum {
		in.ChecksumAlgorithm = types.ChecksumAlgorithmCrc32c
	}

	go func() {
		_, err := s.uploader.Upload(ctx, in)
		// Unblocks a writer still waiting on the pipe.
		_ = pr.CloseWithError(err)
		u.done <- err
	}()

	return u
}

func (u *upload) Write(p []byte) (int, error) {
	return u.pw.Write(p)
}

// Close ends the stream and waits for the upload. Later calls return the
// first result.
func (u *upload) Close() error {
	u.finish(nil)
	return u.err
}

// Abort cancels the upload; nothing is stored. With LeavePartsOnError
// false the uploader removes any parts itself.
func (u *upload) Abort() error {
	u.finish(errAborted)
	return nil
}

func (u *upload) finish(cause error) {
	u.once.Do(func() {
		if cause != nil {
			_ = u.pw.CloseWithError(cause)
			<-u.done
			u.err = cause
			return
		}
		_ = u.pw.Close()
		u.err = <-u.done
	})
}

// Sync is a no-op: S3 has nothing to flush before Close.
func (u *upload) Sync() error { return nil }
