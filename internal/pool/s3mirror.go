package pool

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Mirror uploads each persisted pool image to an S3 bucket as a
// secondary sink, on top of the primary atomic on-disk persist. Failures
// are logged and never propagated as a Persist failure — see spec.md
// §4.4 and SPEC_FULL.md §11.1.
type S3Mirror struct {
	client *s3.Client
	bucket string
	key    string
	logger *slog.Logger
}

// NewS3Mirror builds an S3Mirror from the default AWS config chain
// (environment, shared config, instance profile), targeting bucket/key.
func NewS3Mirror(ctx context.Context, bucket, key string, logger *slog.Logger) (*S3Mirror, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return &S3Mirror{
		client: s3.NewFromConfig(cfg),
		bucket: bucket,
		key:    key,
		logger: logger.With("component", "s3_mirror", "bucket", bucket, "key", key),
	}, nil
}

// Mirror uploads image to the configured bucket/key.
func (m *S3Mirror) Mirror(ctx context.Context, image []byte) error {
	_, err := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &m.bucket,
		Key:    &m.key,
		Body:   bytes.NewReader(image),
	})
	if err != nil {
		m.logger.Warn("s3 mirror upload failed", "error", err)
		return err
	}
	m.logger.Debug("s3 mirror upload complete", "bytes", len(image))
	return nil
}
