package election

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3ObjectClient implements ObjectClient with S3 conditional writes
// (If-None-Match on create, If-Match on replace).
type S3ObjectClient struct {
	client *s3.Client
	bucket string
}

// NewS3ObjectClient loads the ambient AWS configuration and returns a
// client scoped to bucket. endpoint overrides the API endpoint for
// S3-compatible stores.
func NewS3ObjectClient(ctx context.Context, bucket, region, endpoint string) (*S3ObjectClient, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3ObjectClient{client: client, bucket: bucket}, nil
}

func (c *S3ObjectClient) Get(ctx context.Context, key string) ([]byte, string, error) {
	out, err := c.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, "", ErrObjectNotFound
		}
		return nil, "", err
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", err
	}
	return data, aws.ToString(out.ETag), nil
}

func (c *S3ObjectClient) PutIfAbsent(ctx context.Context, key string, data []byte) (string, error) {
	out, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		if isPreconditionFailure(err) {
			return "", ErrPreconditionFailed
		}
		return "", err
	}
	return aws.ToString(out.ETag), nil
}

func (c *S3ObjectClient) PutIfMatch(ctx context.Context, key string, data []byte, etag string) (string, error) {
	out, err := c.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:  aws.String(c.bucket),
		Key:     aws.String(key),
		Body:    bytes.NewReader(data),
		IfMatch: aws.String(etag),
	})
	if err != nil {
		if isPreconditionFailure(err) {
			return "", ErrPreconditionFailed
		}
		return "", err
	}
	return aws.ToString(out.ETag), nil
}

func isPreconditionFailure(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return true
	}
	return false
}
