package writer

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "mboflow/config"
	"mboflow/logger"
)

// minPartSize is the smallest part size S3 accepts for multipart uploads.
const minPartSize int64 = 5 * 1024 * 1024

// S3Uploader uploads written files under a key prefix.
type S3Uploader struct {
	bucket   string
	prefix   string
	version  string
	uploader *manager.Uploader
	log      *logger.Log
}

// NewS3Uploader builds the S3 client from cfg. Static credentials are used
// when both keys are set, otherwise the default AWS chain.
func NewS3Uploader(ctx context.Context, cfg appconfig.S3Config, version string) (*S3Uploader, error) {
	log := logger.GetLogger()

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithComponent("s3_uploader").WithError(err).Warn("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil || !creds.HasKeys() {
		return nil, fmt.Errorf("aws credentials not found")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	partSize := cfg.PartSizeMB * 1024 * 1024
	if partSize < minPartSize {
		partSize = minPartSize
	}
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partSize
		if cfg.UploadConcurrency > 0 {
			u.Concurrency = cfg.UploadConcurrency
		}
	})

	log.WithComponent("s3_uploader").WithFields(logger.Fields{
		"bucket":     cfg.Bucket,
		"region":     cfg.Region,
		"endpoint":   cfg.Endpoint,
		"path_style": cfg.PathStyle,
		"part_size":  partSize,
	}).Info("s3 uploader initialized")

	return &S3Uploader{
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		version:  version,
		uploader: uploader,
		log:      log,
	}, nil
}

// Key returns the object key for a path relative to the local root.
func (u *S3Uploader) Key(rel string) string {
	rel = strings.TrimLeft(strings.ReplaceAll(rel, "\\", "/"), "/")
	if u.prefix == "" {
		return rel
	}
	return path.Join(u.prefix, rel)
}

// Upload stores data under the key for rel and returns its s3:// URI.
func (u *S3Uploader) Upload(ctx context.Context, rel string, data []byte, contentType string) (string, error) {
	key := u.Key(rel)
	log := u.log.WithComponent("s3_uploader").WithFields(logger.Fields{
		"operation": "upload",
		"s3_key":    key,
		"data_size": len(data),
	})

	_, err := u.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"mboflow-version": u.version,
		},
	})
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"bucket": u.bucket}).Error("failed to upload to S3")
		return "", fmt.Errorf("failed to upload to S3 bucket %s: %w", u.bucket, err)
	}

	log.Debug("uploaded to S3")
	return fmt.Sprintf("s3://%s/%s", u.bucket, key), nil
}
