// Package blob moves recordings, segments, frames and evidence archives
// between the pipeline and object storage.
//
// Store is the narrow get/put contract the pipeline depends on; S3Store
// binds it to Amazon S3 and adds whole-file helpers for the large video
// objects that should not be buffered in memory. Failures are reported,
// never retried, at this layer.
package blob

import (
	"context"
	"fmt"
	"strings"
)

// Store reads and writes whole objects.
type Store interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error)
}

// ParseS3URI splits "s3://bucket/key/path" into bucket and key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 URI: %q", uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 URI must include bucket and key: %q", uri)
	}
	return bucket, key, nil
}
