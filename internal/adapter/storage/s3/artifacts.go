// Package s3 deletes result artifacts from the object store.
package s3

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fairyhunter13/gpu-task-orchestrator/internal/domain"
)

// API is the subset of the S3 client the store uses.
type API interface {
	DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, opts ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
}

// ArtifactStore implements domain.ArtifactStore on one bucket.
type ArtifactStore struct {
	api    API
	bucket string
}

// New constructs an ArtifactStore for the given bucket.
func New(api API, bucket string) *ArtifactStore {
	return &ArtifactStore{api: api, bucket: bucket}
}

// Delete removes the object under the given key.
func (s *ArtifactStore) Delete(ctx domain.Context, key string) error {
	_, err := s.api.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("op=artifact.delete key=%s: %w", key, err)
	}
	return nil
}
