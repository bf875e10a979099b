package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"

	"github.com/prn-tf/meridian/internal/domain"
)

// S3Config holds settings for the S3 (or S3-compatible) gateway.
type S3Config struct {
	// Region is the bucket region. Required by the SDK even for
	// S3-compatible stores.
	Region string

	// Bucket is the target bucket name.
	Bucket string

	// AccessKeyID and SecretAccessKey are static credentials. When both are
	// empty the SDK's default credential chain is used.
	AccessKeyID     string
	SecretAccessKey string

	// Endpoint overrides the S3 endpoint for MinIO and other compatible
	// stores. Empty means AWS.
	Endpoint string

	// UsePathStyle forces path-style addressing, required by most
	// S3-compatible stores.
	UsePathStyle bool

	// PublicBaseURL, when set, is used to build canonical object URLs
	// (e.g. a CDN in front of the bucket). Falls back to the endpoint or
	// the AWS virtual-hosted URL.
	PublicBaseURL string
}

// Validate checks that the config can produce a working gateway.
func (c S3Config) Validate() error {
	if c.Region == "" {
		return errors.New("s3: region is required")
	}
	if c.Bucket == "" {
		return errors.New("s3: bucket is required")
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return errors.New("s3: access key ID and secret access key must be set together")
	}
	return nil
}

// S3Gateway implements Gateway against the AWS SDK v2.
type S3Gateway struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	cfg     S3Config
	logger  zerolog.Logger
}

// NewS3Gateway builds the S3 client and verifies bucket access.
// It fails fast so a misconfigured deployment dies at startup rather than on
// the first upload.
func NewS3Gateway(ctx context.Context, cfg S3Config, logger zerolog.Logger) (*S3Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	gw := &S3Gateway{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		cfg:     cfg,
		logger:  logger.With().Str("gateway", "s3").Logger(),
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %s: %w", cfg.Bucket, err)
	}

	logger.Info().
		Str("bucket", cfg.Bucket).
		Str("region", cfg.Region).
		Str("endpoint", cfg.Endpoint).
		Msg("connected to object store")

	return gw, nil
}

// classifyErr maps object-store API errors onto domain sentinels.
// AccessDenied means the deployment's credentials lack a bucket permission;
// retrying cannot help, so it surfaces as ErrPermissionDenied.
func classifyErr(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "AccessDenied" {
		return fmt.Errorf("%w: %v", domain.ErrPermissionDenied, err)
	}
	return err
}

// CreateMultipartUpload registers a new multipart upload.
func (g *S3Gateway) CreateMultipartUpload(ctx context.Context, key, contentType string) (string, error) {
	out, err := g.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create multipart upload: %w", classifyErr(err))
	}
	return aws.ToString(out.UploadId), nil
}

// PresignUploadPart returns a presigned URL for uploading one part.
func (g *S3Gateway) PresignUploadPart(ctx context.Context, key, storageUploadID string, partNumber int, ttl time.Duration) (string, error) {
	req, err := g.presign.PresignUploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(g.bucket),
		Key:        aws.String(key),
		UploadId:   aws.String(storageUploadID),
		PartNumber: aws.Int32(int32(partNumber)),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign part %d: %w", partNumber, err)
	}
	return req.URL, nil
}

// PresignObjectPut returns a presigned URL for a simple whole-object PUT.
func (g *S3Gateway) PresignObjectPut(ctx context.Context, key, contentType string, ttl time.Duration) (string, error) {
	req, err := g.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(g.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign put: %w", err)
	}
	return req.URL, nil
}

// PresignDownload returns a presigned URL for fetching the object.
func (g *S3Gateway) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := g.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("failed to presign get: %w", err)
	}
	return req.URL, nil
}

// CompleteMultipartUpload assembles the object from its parts.
func (g *S3Gateway) CompleteMultipartUpload(ctx context.Context, key, storageUploadID string, parts []CompletedPart) (*CompleteResult, error) {
	completed := make([]types.CompletedPart, len(parts))
	for i, p := range parts {
		completed[i] = types.CompletedPart{
			PartNumber: aws.Int32(int32(p.PartNumber)),
			ETag:       aws.String(p.ETag),
		}
	}

	out, err := g.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(g.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(storageUploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete multipart upload: %w", classifyErr(err))
	}

	return &CompleteResult{
		ETag:     aws.ToString(out.ETag),
		Location: aws.ToString(out.Location),
	}, nil
}

// AbortMultipartUpload discards an in-progress multipart upload.
func (g *S3Gateway) AbortMultipartUpload(ctx context.Context, key, storageUploadID string) error {
	_, err := g.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(g.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(storageUploadID),
	})
	if err != nil {
		return fmt.Errorf("failed to abort multipart upload: %w", classifyErr(err))
	}
	return nil
}

// ObjectExists reports whether an object is present at key.
func (g *S3Gateway) ObjectExists(ctx context.Context, key string) (bool, error) {
	_, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head object: %w", classifyErr(err))
	}
	return true, nil
}

// ObjectURL returns the canonical URL for an object.
func (g *S3Gateway) ObjectURL(key string) string {
	if g.cfg.PublicBaseURL != "" {
		return strings.TrimRight(g.cfg.PublicBaseURL, "/") + "/" + key
	}
	if g.cfg.Endpoint != "" {
		return strings.TrimRight(g.cfg.Endpoint, "/") + "/" + g.bucket + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", g.bucket, g.cfg.Region, key)
}

// Ensure S3Gateway implements Gateway.
var _ Gateway = (*S3Gateway)(nil)
