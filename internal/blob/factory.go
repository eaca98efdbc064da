package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Opener returns the Store serving one bucket.
type Opener func(ctx context.Context, bucket string) (Store, error)

// Open selects a blob.Store implementation for bucket using environment variables.
//
//	TENX_BLOB_DRIVER: s3|fs|memory (default s3)
//	TENX_BLOB_FS_ROOT: directory holding one sub-directory per bucket when driver=fs (default ./blobdata)
//	(S3 specific variables documented in internal/infra/blob/s3)
func Open(ctx context.Context, bucket string) (Store, error) {
	driver := os.Getenv("TENX_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverS3)
	}
	switch Driver(driver) {
	case DriverS3:
		return OpenFromEnv(ctx, bucket)
	case DriverFilesystem:
		root := os.Getenv("TENX_BLOB_FS_ROOT")
		if root == "" {
			root = "./blobdata"
		}
		return NewFilesystem(filepath.Join(root, bucket))
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// MemoryOpener returns an Opener that hands out one shared in-memory store
// per bucket, so uploads are visible to later downloads in the same process.
func MemoryOpener() Opener {
	var mu sync.Mutex
	stores := make(map[string]Store)
	return func(_ context.Context, bucket string) (Store, error) {
		mu.Lock()
		defer mu.Unlock()
		s, ok := stores[bucket]
		if !ok {
			s = NewMemory()
			stores[bucket] = s
		}
		return s, nil
	}
}
