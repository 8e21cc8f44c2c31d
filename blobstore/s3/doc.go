// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	store := s3.NewStore(awss3.NewFromConfig(cfg), "my-bucket", "fusion/")
//	arc := archive.New(store)
//
// For several writers committing to the same prefix, wrap the store in a
// DDBCommitStore so that CURRENT is updated with a DynamoDB conditional
// write.
//
// # Features
//
//   - Range reads for partial fetches
//   - Multipart uploads for large columns
//   - CRC32C checksums on upload
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
