// Package attachment accepts image and file uploads for chat messages.
//
// An Uploader enforces the size limit, sniffs the content type against an
// allow-list and derives a content-addressed key from a BLAKE2b hash. The
// bytes go to a Host: LocalHost writes to disk and serves the directory,
// COSHost uploads to a Tencent COS bucket.
package attachment
