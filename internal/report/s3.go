package report

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"
)

// S3Config holds the bucket and credentials for report uploads.
type S3Config struct {
	Region          string
	Bucket          string
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// Uploader is the subset of manager.Uploader the sink needs.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Sink stores CSV exports in S3.
type S3Sink struct {
	uploader Uploader
	cfg      S3Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewS3Sink creates an uploader using credentials from config or the environment
// (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY), falling back to the default chain.
func NewS3Sink(ctx context.Context, cfg S3Config, logger *zap.Logger) (*S3Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	accessKey := cfg.AccessKeyID
	secretKey := cfg.SecretAccessKey
	if accessKey == "" || secretKey == "" {
		accessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		secretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	}
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKey, secretKey, "",
		)))
	} else {
		logger.Warn("report sink using default AWS credential chain")
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	uploader := manager.NewUploader(s3.NewFromConfig(awsCfg))
	return NewS3SinkWithUploader(uploader, cfg, logger), nil
}

func NewS3SinkWithUploader(uploader Uploader, cfg S3Config, logger *zap.Logger) *S3Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Sink{uploader: uploader, cfg: cfg, logger: logger, now: time.Now}
}

// Key returns the object key for a poll export: <prefix>/<poll>/<timestamp>.csv.
func (s *S3Sink) Key(pollID string, at time.Time) string {
	return path.Join(s.cfg.Prefix, pollID, at.UTC().Format("20060102T150405Z")+".csv")
}

// Upload writes the report as CSV and returns the object key.
func (s *S3Sink) Upload(ctx context.Context, r Report) (string, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, r); err != nil {
		return "", fmt.Errorf("render csv: %w", err)
	}
	key := s.Key(r.Poll.ID, s.now())
	size := int64(buf.Len())
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(buf.Bytes()),
		ContentType:   aws.String("text/csv"),
		ContentLength: &size,
	})
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	s.logger.Info("report uploaded", zap.String("bucket", s.cfg.Bucket), zap.String("key", key))
	return key, nil
}
