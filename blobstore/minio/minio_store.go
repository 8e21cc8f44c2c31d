package minio

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/hupe1980/geofuse/blobstore"
	"github.com/minio/minio-go/v7"
)

// ContentType is set on every object the store writes.
const ContentType = "application/octet-stream"

var errAborted = errors.New("minio: upload aborted")

// Options configures a Store.
type Options struct {
	// PartSize is the multipart part size for streamed columns. Zero lets
	// the client choose.
	PartSize uint64

	// StorageClass is applied to every object. Empty uses the server
	// default.
	StorageClass string
}

// Store implements blobstore.BlobStore for MinIO and other S3-compatible
// servers.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
	opts   Options
}

// NewStore returns a store writing below rootPrefix (e.g. "fusion/") in
// bucket.
func NewStore(client *minio.Client, bucket, rootPrefix string, optFns ...func(*Options)) *Store {
	s := &Store{client: client, bucket: bucket, prefix: rootPrefix}
	for _, fn := range optFns {
		if fn != nil {
			fn(&s.opts)
		}
	}
	return s
}

func (s *Store) key(name string) string {
	return joinKey(s.prefix, name)
}

// joinKey keeps a trailing slash so directory prefixes stay prefixes.
func joinKey(prefix, name string) string {
	k := path.Join(prefix, name)
	if strings.HasSuffix(name, "/") {
		k += "/"
	}
	return k
}

func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

func (s *Store) putOptions() minio.PutObjectOptions {
	return minio.PutObjectOptions{
		ContentType:  ContentType,
		PartSize:     s.opts.PartSize,
		StorageClass: s.opts.StorageClass,
	}
}

// Open stats the object and returns a handle issuing ranged GETs.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	key := s.key(name)

	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	switch {
	case isNotFound(err):
		return nil, blobstore.ErrNotFound
	case err != nil:
		return nil, err
	}
	return &object{store: s, key: key, size: info.Size}, nil
}

// Put uploads data in one request.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)), s.putOptions())
	return err
}

// Create starts a streaming upload of unknown size. The object appears when
// the writer is closed.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	pr, pw := io.Pipe()
	u := &upload{pw: pw, done: make(chan error, 1)}

	key := s.key(name)
	go func() {
		_, err := s.client.PutObject(ctx, s.bucket, key, pr, -1, s.putOptions())
		_ = pr.CloseWithError(err)
		u.done <- err
	}()

	return u, nil
}

// Delete removes name. Missing objects are not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(name), minio.RemoveObjectOptions{})
	if err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// List returns the sorted names below the store prefix starting with prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	root := strings.TrimSuffix(s.prefix, "/")

	var names []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.key(prefix),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		name := strings.TrimPrefix(strings.TrimPrefix(obj.Key, root), "/")
		if name != "" && strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}

	slices.Sort(names)
	return names, nil
}

type object struct {
	store *Store
	key   string
	size  int64
}

func (o *object) Size() int64 { return o.size }

func (o *object) Close() error { return nil }

func (o *object) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 || off >= o.size {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	end := min(off+int64(len(p)), o.size)
	var opts minio.GetObjectOptions
	if err := opts.SetRange(off, end-1); err != nil {
		return 0, err
	}

	r, err := o.store.client.GetObject(ctx, o.store.bucket, o.key, opts)
	if err != nil {
		return 0, err
	}
	defer func() { _ = r.Close() }()

	n, err := io.ReadFull(r, p[:end-off])
	if err == nil && n < len(p) {
		err = io.EOF
	}
	return n, err
}

// upload pipes writes into a background PutObject.
type upload struct {
	pw   *io.PipeWriter
	done chan error

	once sync.Once
	err  error
}

func (u *upload) Write(p []byte) (int, error) { return u.pw.Write(p) }

// Close ends the stream and waits for the server to store the object.
func (u *upload) Close() error {
	u.finish(nil)
	return u.err
}

// Abort fails the stream so that PutObject gives up and nothing is stored.
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

func (u *upload) Sync() error { return nil }
