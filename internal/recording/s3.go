package recording

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3API is the subset of the S3 client S3Archiver depends on, narrowed
// for test mocking.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads finished recording files to an S3-compatible object
// store, for deployments that don't want recordings left on local disk
// once a session ends.
type S3Archiver struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Archiver builds an S3Archiver from AWS's default configuration
// chain. An empty endpoint targets the standard AWS S3 endpoint;
// supplying one targets a MinIO or other S3-compatible service instead.
func NewS3Archiver(ctx context.Context, bucket, region, endpoint, prefix, accessKeyID, secretAccessKey string) (*S3Archiver, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("recording: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Archiver{client: s3.NewFromConfig(cfg, s3Opts...), bucket: bucket, prefix: prefix}, nil
}

// newS3ArchiverWithClient builds an S3Archiver around an injected client,
// for tests.
func newS3ArchiverWithClient(client s3API, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix}
}

// Archive uploads the recording file at localPath, keyed by its basename
// under a year/month prefix, and removes the local copy once the upload
// succeeds.
func (a *S3Archiver) Archive(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("recording: open for archive: %w", err)
	}
	defer f.Close()

	now := time.Now()
	key := fmt.Sprintf("%s%d/%02d/%s", a.prefix, now.Year(), now.Month(), filepath.Base(localPath))

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("recording: upload to s3: %w", err)
	}

	f.Close()
	if err := os.Remove(localPath); err != nil {
		log.Warn("archived recording but failed to remove local copy", "path", localPath, "error", err)
	}

	return key, nil
}
