package assets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config describes an S3-compatible object store. Endpoint is optional;
// when set (MinIO, localstack) the client talks to it with path-style
// addressing instead of AWS.
type S3Config struct {
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string

	// PublicBaseURL is prepended to object keys to form the returned URL,
	// e.g. a CDN origin or the bucket's website endpoint.
	PublicBaseURL string

	// KeyPrefix partitions objects, e.g. "media". Optional.
	KeyPrefix string
}

func (c S3Config) validate() error {
	if c.Region == "" {
		return fmt.Errorf("assets: s3: missing region")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return fmt.Errorf("assets: s3: missing credentials")
	}
	if c.Bucket == "" {
		return fmt.Errorf("assets: s3: missing bucket")
	}
	if c.PublicBaseURL == "" {
		return fmt.Errorf("assets: s3: missing public base URL")
	}
	return nil
}

// S3Store uploads files to an S3-compatible bucket.
type S3Store struct {
	client *s3.Client
	cfg    S3Config
}

// NewS3Store builds the client with static credentials and, when an
// endpoint is configured, path-style addressing for MinIO-style stores.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("assets: s3: load config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, cfg: cfg}, nil
}

// Upload puts the file into the bucket under a fresh date-partitioned key
// and returns its public URL. localPath is deleted in all cases.
func (s *S3Store) Upload(ctx context.Context, localPath string) (string, error) {
	defer func() { _ = os.Remove(localPath) }()

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: open %s: %v", ErrUpload, localPath, err)
	}
	defer f.Close()

	key := objectKey(s.keyPrefix(), time.Now(), localPath)

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(contentTypeFor(localPath)),
	})
	if err != nil {
		return "", fmt.Errorf("%w: put object: %v", ErrUpload, err)
	}

	return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + key, nil
}

func (s *S3Store) keyPrefix() string {
	if s.cfg.KeyPrefix != "" {
		return strings.Trim(s.cfg.KeyPrefix, "/")
	}
	return "media"
}
