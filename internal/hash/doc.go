// Package hash provides the CRC32-Castagnoli checksums used by the column
// format, the run manifests and the S3 uploader.
//
// Go's hash/crc32 computes CRC32C with SSE4.2 or the ARM CRC extension when
// available.
//
//	sum := hash.CRC32C(payload)
//
// Writer checksums a stream while it is written, so a blob's checksum can be
// recorded without buffering it twice:
//
//	cw := hash.NewWriter(blob)
//	io.Copy(cw, src)
//	ref.CRC32C, ref.Size = cw.Sum32(), cw.Size()
package hash
