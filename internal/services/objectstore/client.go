// Package objectstore persists finished assets to S3-compatible storage.
package objectstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"videoforge/internal/config"
	"videoforge/internal/logging"
	"videoforge/internal/services"
)

// api is the slice of the S3 client the store uses. Tests substitute a fake.
type api interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Client uploads assets to per-kind buckets.
type Client struct {
	s3      api
	buckets config.BucketsConfig
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// New builds a client from configuration. A custom endpoint switches to
// path-style addressing for S3-compatible stores like R2 or MinIO.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Client, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ObjectStore.Region),
	}
	if cfg.ObjectStore.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.ObjectStore.AccessKey, cfg.ObjectStore.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load object store config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ObjectStore.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.ObjectStore.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.ObjectStore.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return &Client{
		s3:      client,
		buckets: cfg.ObjectStore.Buckets,
		logger:  logging.NewComponentLogger(logger, "objectstore"),
		now:     time.Now,
		newID:   uuid.NewString,
	}, nil
}

// Result describes a completed upload.
type Result struct {
	Bucket       string
	StorageKey   string
	IntegrityTag string
}

// Upload stores the file under a collision-free key in the bucket mapped to
// the asset kind.
func (c *Client) Upload(ctx context.Context, assetKind, path string) (*Result, error) {
	bucket, err := c.BucketFor(assetKind)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, services.WrapError(services.KindFinalize, "", "open asset for upload", err)
	}
	defer f.Close()

	key := c.objectKey(path)
	out, err := c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return nil, services.WrapError(services.KindFinalize, "",
			fmt.Sprintf("upload %s to bucket %s", assetKind, bucket), err)
	}

	tag := ""
	if out.ETag != nil {
		tag = strings.Trim(*out.ETag, `"`)
	}
	c.logger.Info("asset uploaded",
		logging.String("asset_kind", assetKind),
		logging.String("bucket", bucket),
		logging.String("storage_key", key))
	return &Result{Bucket: bucket, StorageKey: key, IntegrityTag: tag}, nil
}

// BucketFor maps an asset kind to its durable bucket. Kinds with no bucket
// are staging-only.
func (c *Client) BucketFor(assetKind string) (string, error) {
	switch assetKind {
	case "original_video":
		return c.buckets.OriginalVideos, nil
	case "optimized_video":
		return c.buckets.OptimizedVideos, nil
	case "captioned_video":
		return c.buckets.CaptionedVideos, nil
	case "generated_video":
		return c.buckets.GeneratedVideos, nil
	case "audio":
		return c.buckets.AudioTracks, nil
	case "srt_transcript":
		return c.buckets.SRTTranscripts, nil
	case "plain_transcript", "tech_metadata", "keyword_extraction":
		return c.buckets.PlainTranscripts, nil
	default:
		return "", services.NewError(services.KindFinalize, "",
			fmt.Sprintf("no bucket mapping for asset kind %q", assetKind))
	}
}

// Download fetches a stored object into dest. The partial file is removed
// when the copy fails.
func (c *Client) Download(ctx context.Context, assetKind, storageKey, dest string) error {
	bucket, err := c.BucketFor(assetKind)
	if err != nil {
		return err
	}

	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(storageKey),
	})
	if err != nil {
		return services.WrapError(services.KindTransient, "",
			fmt.Sprintf("fetch %s from bucket %s", storageKey, bucket), err)
	}
	defer out.Body.Close()

	f, err := os.Create(dest)
	if err != nil {
		return services.WrapError(services.KindRepository, "", "create download target", err)
	}
	if _, err := io.Copy(f, out.Body); err != nil {
		f.Close()
		os.Remove(dest)
		return services.WrapError(services.KindTransient, "", "copy object body", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dest)
		return services.WrapError(services.KindRepository, "", "close download target", err)
	}
	return nil
}

// HealthCheck verifies the primary bucket is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.s3.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(c.buckets.OptimizedVideos),
	})
	if err != nil {
		return services.WrapError(services.KindTransient, "", "object store unreachable", err)
	}
	return nil
}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// objectKey builds "<unix-ms>-<uuid>-<sanitized-basename>" so repeated
// uploads of the same filename never collide.
func (c *Client) objectKey(path string) string {
	base := path
	if idx := strings.LastIndexAny(path, `/\`); idx >= 0 {
		base = path[idx+1:]
	}
	sanitized := unsafeKeyChars.ReplaceAllString(base, "_")
	return fmt.Sprintf("%d-%s-%s", c.now().UnixMilli(), c.newID(), sanitized)
}
