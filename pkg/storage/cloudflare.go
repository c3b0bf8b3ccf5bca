package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	internalConfig "github.com/sefazor/portfolio-billing/internal/config"
	"go.uber.org/zap"
)

type CloudflareStorage struct {
	client    *s3.Client
	bucket    string
	accountID string
	publicURL string
	logger    *zap.Logger
}

func NewCloudflareStorage(ctx context.Context, cfg internalConfig.R2Config, logger *zap.Logger) (*CloudflareStorage, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		config.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	return &CloudflareStorage{
		client:    client,
		bucket:    cfg.Bucket,
		accountID: cfg.AccountID,
		publicURL: cfg.PublicURL,
		logger:    logger.Named("r2"),
	}, nil
}

// Upload writes src to key. Readers that can seek are streamed with a known
// length; anything else is buffered first.
func (s *CloudflareStorage) Upload(ctx context.Context, key string, src io.Reader) error {
	var (
		body io.Reader
		size int64
	)
	if rs, ok := src.(io.ReadSeeker); ok {
		current, err := rs.Seek(0, io.SeekCurrent)
		if err != nil {
			return fmt.Errorf("failed to get current position: %w", err)
		}
		end, err := rs.Seek(0, io.SeekEnd)
		if err != nil {
			return fmt.Errorf("failed to seek to end: %w", err)
		}
		if _, err := rs.Seek(current, io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek back to start: %w", err)
		}
		body, size = rs, end-current
	} else {
		buf, err := io.ReadAll(src)
		if err != nil {
			return fmt.Errorf("failed to read object content: %w", err)
		}
		body, size = bytes.NewReader(buf), int64(len(buf))
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to R2: %w", err)
	}

	s.logger.Info("object uploaded", zap.String("bucket", s.bucket), zap.String("key", key), zap.Int64("bytes", size))
	return nil
}

func (s *CloudflareStorage) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}
