package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/aluiziolira/martprice/models"
)

// S3Options configures the object-storage mirror. Endpoint may point at any
// S3-compatible service such as R2 or MinIO.
type S3Options struct {
	Bucket    string
	Key       string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// S3Writer uploads the snapshot document as a single JSON object.
type S3Writer struct {
	client *s3.Client
	bucket string
	key    string
}

// NewS3Writer builds a client from opts. Without static keys the default AWS
// credential chain is used.
func NewS3Writer(ctx context.Context, opts S3Options) (*S3Writer, error) {
	if opts.Bucket == "" || opts.Key == "" {
		return nil, errors.New("s3 bucket and key are required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKey != "" && opts.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Writer{client: client, bucket: opts.Bucket, key: opts.Key}, nil
}

// Replace overwrites the object with the new document.
func (sw *S3Writer) Replace(ctx context.Context, snap *models.PriceSnapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	_, err = sw.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(sw.bucket),
		Key:          aws.String(sw.key),
		Body:         bytes.NewReader(body),
		ContentType:  aws.String("application/json"),
		CacheControl: aws.String("no-cache"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", sw.bucket, sw.key, err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (sw *S3Writer) Close() error { return nil }
