// Package minio provides a BlobStore implementation using the MinIO client.
//
// It works against MinIO and other S3-compatible servers (Ceph, SeaweedFS,
// Garage) without pulling in the AWS SDK.
//
// # Basic Usage
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioblob.NewStore(client, "fusion", "runs/")
//	arc := archive.New(store)
package minio
