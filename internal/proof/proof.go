// Package proof stores payment-proof attachments for settlements on
// S3-compatible object storage (AWS S3, MinIO, RustFS).
package proof

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// MaxSize is the largest attachment accepted.
const MaxSize = 5 << 20

var (
	ErrEmpty           = errors.New("proof is empty")
	ErrTooLarge        = errors.New("proof exceeds 5 MiB")
	ErrUnsupportedType = errors.New("unsupported proof content type")
)

var extensions = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// Store keeps proof attachments.
type Store interface {
	// Put stores data for a settlement and returns the reference to keep on it.
	Put(ctx context.Context, settlementID, contentType string, data []byte) (string, error)

	// URL returns a time-limited download link for a reference returned by Put.
	URL(ctx context.Context, ref string) (string, error)
}

// Config holds object storage settings.
type Config struct {
	Bucket       string
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool

	// URLExpiry bounds presigned download links. Zero means 15 minutes.
	URLExpiry time.Duration
}

// S3Store implements Store on an S3-compatible bucket.
type S3Store struct {
	client    *s3.Client
	presign   *s3.PresignClient
	bucket    string
	urlExpiry time.Duration
}

// NewS3Store creates an S3Store from cfg. Static credentials are used when given,
// otherwise the default AWS credential chain.
func NewS3Store(ctx context.Context, cfg Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("proof bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := cfg.Endpoint
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	expiry := cfg.URLExpiry
	if expiry == 0 {
		expiry = 15 * time.Minute
	}
	return &S3Store{
		client:    client,
		presign:   s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		urlExpiry: expiry,
	}, nil
}

// Put uploads data under proofs/<settlement>/<random><ext>.
func (s *S3Store) Put(ctx context.Context, settlementID, contentType string, data []byte) (string, error) {
	if err := Check(contentType, data); err != nil {
		return "", err
	}

	key := fmt.Sprintf("proofs/%s/%s%s", settlementID, uuid.NewString(), extensions[contentType])
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload proof: %w", err)
	}
	return key, nil
}

func (s *S3Store) URL(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", errors.New("proof reference is required")
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(ref),
	}, s3.WithPresignExpires(s.urlExpiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign proof url: %w", err)
	}
	return req.URL, nil
}

// Check validates an attachment before upload.
func Check(contentType string, data []byte) error {
	if len(data) == 0 {
		return ErrEmpty
	}
	if len(data) > MaxSize {
		return ErrTooLarge
	}
	if _, ok := extensions[contentType]; !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	return nil
}

var _ Store = (*S3Store)(nil)
