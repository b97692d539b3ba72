package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"go.uber.org/zap"

	"github.com/memcontext/vault/internal/model"
	"github.com/memcontext/vault/internal/router"
)

// S3 adapts an S3-compatible object store to router.Backend, grounded on
// FairForge's internal/drivers/s3.go (aws-sdk-go-v2 client construction with
// a custom endpoint and static credentials, for non-AWS S3-compatible
// providers).
type S3 struct {
	name   string
	bucket string
	logger *zap.Logger
	client *s3.Client
}

// NewS3 builds an S3 backend against endpoint (empty string for real AWS)
// using static credentials.
func NewS3(ctx context.Context, name, endpoint, bucket, accessKey, secretKey, region string, logger *zap.Logger) (*S3, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	creds := credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(creds),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3{name: name, bucket: bucket, logger: logger, client: client}, nil
}

func (s *S3) Name() string { return s.name }

func (s *S3) Store(ctx context.Context, id, _ string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return model.ErrTransient("s3_store", fmt.Errorf("put object %s/%s: %w", s.bucket, id, err))
	}
	return nil
}

func (s *S3) Retrieve(ctx context.Context, id string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		var respErr *smithyhttp.ResponseError
		if errors.As(err, &noSuchKey) || (errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404) {
			return nil, model.ErrNotFound("object", id)
		}
		return nil, model.ErrTransient("s3_retrieve", fmt.Errorf("get object %s/%s: %w", s.bucket, id, err))
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, model.ErrTransient("s3_retrieve", err)
	}
	return data, nil
}

func (s *S3) Delete(ctx context.Context, id string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(id),
	})
	if err != nil {
		return model.ErrTransient("s3_delete", fmt.Errorf("delete object %s/%s: %w", s.bucket, id, err))
	}
	return nil
}

func (s *S3) Stats(ctx context.Context) (router.BackendStats, error) {
	var stats router.BackendStats
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{Bucket: aws.String(s.bucket)})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return stats, model.ErrTransient("s3_stats", err)
		}
		stats.FileCount += int64(len(page.Contents))
		for _, obj := range page.Contents {
			if obj.Size != nil {
				stats.TotalSize += *obj.Size
			}
		}
	}
	return stats, nil
}

func (s *S3) HealthCheck(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return fmt.Errorf("s3 backend health check: %w", err)
	}
	return nil
}
