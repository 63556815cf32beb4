package media

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"vidtube-backend/internal/config"
)

const s3KeyPrefix = "uploads/"

// S3Storage stores media in an S3-compatible bucket.
type S3Storage struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	baseURL  string
}

func NewS3Storage(ctx context.Context, cfg config.S3Config) (*S3Storage, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 storage: bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = true
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
		u.LeavePartsOnError = false
	})

	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}

	return &S3Storage{
		client:   client,
		uploader: uploader,
		bucket:   cfg.Bucket,
		baseURL:  baseURL,
	}, nil
}

func (s *S3Storage) Name() string {
	return "s3"
}

// Upload stores the file under a random key. S3 does not probe media, so the
// returned duration is always zero.
func (s *S3Storage) Upload(ctx context.Context, localPath string) (Asset, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return Asset{}, fmt.Errorf("open upload file: %w", err)
	}
	defer file.Close()

	key := s3KeyPrefix + uuid.NewString() + strings.ToLower(filepath.Ext(localPath))

	if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   file,
	}); err != nil {
		return Asset{}, fmt.Errorf("s3 storage upload %s: %w", key, err)
	}

	return Asset{URL: s.baseURL + "/" + key, PublicID: key}, nil
}

func (s *S3Storage) Delete(ctx context.Context, assetURL string) error {
	key, err := s.keyFromURL(assetURL)
	if err != nil {
		return err
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("s3 storage delete %s: %w", key, err)
	}
	return nil
}

func (s *S3Storage) keyFromURL(assetURL string) (string, error) {
	if key, ok := strings.CutPrefix(assetURL, s.baseURL+"/"); ok && key != "" {
		return key, nil
	}

	parsed, err := url.Parse(assetURL)
	if err != nil {
		return "", fmt.Errorf("invalid asset url %q", assetURL)
	}
	key := strings.TrimPrefix(path.Clean(parsed.Path), "/")
	key = strings.TrimPrefix(key, s.bucket+"/")
	if !strings.HasPrefix(key, s3KeyPrefix) {
		return "", fmt.Errorf("asset url %q is not in bucket %s", assetURL, s.bucket)
	}
	return key, nil
}
