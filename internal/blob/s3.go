package blob

import (
	"context"

	infraS3 "tenxpipeline/internal/infra/blob/s3"
)

// S3Config re-exports the infra S3 configuration type.
type S3Config = infraS3.Config

// NewS3 constructs an S3-backed blob.Store from the provided configuration.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	return infraS3.New(ctx, cfg)
}

// OpenFromEnv constructs an S3 store for bucket using environment variables.
func OpenFromEnv(ctx context.Context, bucket string) (Store, error) {
	return infraS3.OpenFromEnv(ctx, bucket)
}

// MockS3 exposes the fake S3 endpoint to cross-package tests.
type MockS3 = infraS3.MockBucket

// NewMockS3ForTests returns an S3 store for bucket backed by an in-memory fake endpoint.
func NewMockS3ForTests(bucket string) (Store, *MockS3) {
	return infraS3.NewMockForTests(bucket)
}
