package logs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// S3Backend stores request logs as objects in a single bucket, one
// object per request, the IIB_AWS_S3_BUCKET_NAME deployment mode.
type S3Backend struct {
	client *s3.Client
	bucket string
}

// NewS3Backend builds an S3Backend using the ambient AWS credential chain
// (environment, shared config, IMDS), the same discovery the rest of the
// CI tooling's AWS-backed commands rely on.
func NewS3Backend(ctx context.Context, bucket string) (*S3Backend, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}
	return &S3Backend{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

func objectKey(requestID int64) string {
	return fmt.Sprintf("request-logs/%d.log", requestID)
}

func (b *S3Backend) Read(ctx context.Context, requestID int64) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey(requestID)),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
			return nil, ErrNotExist
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (b *S3Backend) Write(ctx context.Context, requestID int64, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(objectKey(requestID)),
		Body:   bytes.NewReader(data),
	})
	return err
}
