// Package blobstore provides the storage abstraction behind the fusion
// archive.
//
// BlobStore is the interface for reading and writing named blobs (column
// files, run manifests and the CURRENT pointer). Implementations must be
// safe for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-memory, for tests and ephemeral runs
//   - LocalStore: local filesystem with atomic rename on write
//   - s3.Store: Amazon S3 with range reads and multipart uploads
//   - s3.DDBCommitStore: S3 plus DynamoDB conditional writes for CURRENT
//   - minio.Store: MinIO and other S3-compatible servers
//
// # Custom Implementations
//
//	type BlobStore interface {
//	    Open(ctx, name) (Blob, error)
//	    Create(ctx, name) (WritableBlob, error)
//	    Put(ctx, name, data) error
//	    Delete(ctx, name) error
//	    List(ctx, prefix) ([]string, error)
//	}
package blobstore
