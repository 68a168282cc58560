package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/tdu-cpslab/volp/internal/fault"
)

// DefaultPresignExpiry is the longest validity SigV4 allows
const DefaultPresignExpiry = 7 * 24 * time.Hour

// S3Config holds configuration for the S3 storage backend.
type S3Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string
	// Prefix is the key prefix within the bucket (optional).
	Prefix string
	// Region is the AWS region (optional, uses default chain if empty).
	Region string
	// Endpoint is a custom S3 endpoint URL for S3-compatible providers
	// (e.g. MinIO). Empty uses the default AWS endpoint.
	Endpoint string
	// UsePathStyle forces path-style addressing (bucket in path, not subdomain).
	UsePathStyle bool
	// PresignExpiry bounds the validity of the returned link.
	PresignExpiry time.Duration
	// MIMEType is sent as the object's Content-Type.
	MIMEType string
}

// Validate checks that required S3 configuration is present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	if c.PresignExpiry < 0 || c.PresignExpiry > DefaultPresignExpiry {
		return fmt.Errorf("presign expiry must be between 0 and %v, got %v", DefaultPresignExpiry, c.PresignExpiry)
	}
	return nil
}

// ObjectPutter is the subset of the S3 client used for uploads
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// ObjectPresigner is the subset of the presign client used for links
type ObjectPresigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Store stores artifacts in a bucket and links them with presigned GET URLs
type S3Store struct {
	cfg       S3Config
	client    ObjectPutter
	presigner ObjectPresigner
}

// NewS3Store creates a store using the AWS SDK default credential chain
// (env vars, shared config, IAM role).
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = &endpoint
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	client := s3.NewFromConfig(awsConfig, s3Opts...)

	return NewS3StoreWithClient(cfg, client, s3.NewPresignClient(client)), nil
}

// NewS3StoreWithClient creates a store over existing clients
func NewS3StoreWithClient(cfg S3Config, client ObjectPutter, presigner ObjectPresigner) *S3Store {
	return &S3Store{cfg: cfg, client: client, presigner: presigner}
}

// Key returns the object key for an artifact name
func (s *S3Store) Key(name string) string {
	if s.cfg.Prefix == "" {
		return name
	}
	return path.Join(s.cfg.Prefix, name)
}

// Store implements Store
func (s *S3Store) Store(ctx context.Context, filePath, name string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fault.New(fault.IOFailure, "s3.read", fmt.Errorf("failed to open %s: %w", filePath, err))
	}
	defer f.Close()

	mimeType := s.cfg.MIMEType
	if mimeType == "" {
		mimeType = MIMETypeWAV
	}

	key := s.Key(name)
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(mimeType),
	})
	if err != nil {
		return "", fault.New(fault.UploadFailure, "s3.put", fmt.Errorf("failed to put s3://%s/%s: %w", s.cfg.Bucket, key, err))
	}

	expiry := s.cfg.PresignExpiry
	if expiry == 0 {
		expiry = DefaultPresignExpiry
	}

	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fault.New(fault.UploadFailure, "s3.presign", err)
	}
	if req == nil || req.URL == "" {
		return "", fault.Errorf(fault.MissingObjectID, "s3.presign", "presigner returned no URL for %s", key)
	}

	return req.URL, nil
}
