// Package archiver is the optional remote-archival sink for cleaned-up
// episode audio (SPEC_FULL.md domain stack: AWS SDK v2 S3). It adapts
// the teacher's internal/storage S3 backend, dropping the Google
// Drive/m3u8-specific surface that backend also carried, into a single
// capability interface the downloader's cleanup step can call before
// it deletes a local file.
package archiver

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver matches downloader.AudioArchiver: upload the file at
// localPath under key, then it is safe for the caller to delete the
// local copy.
type Archiver interface {
	Archive(ctx context.Context, localPath, key string) error
}

// S3Archiver uploads cleaned-up audio to an S3 (or R2, via EndpointURL)
// bucket. It implements only the upload/delete/exists slice of the
// teacher's S3Storage; the original's Drive-query-string GetFiles,
// GetMostRecentFile, and presigned-URL generation have no archival use
// here and were left behind.
type S3Archiver struct {
	client *s3.Client
	bucket string
}

// Config holds the subset of the teacher's S3Config this package uses.
type Config struct {
	Region      string
	Bucket      string
	AccessKey   string
	SecretKey   string
	EndpointURL string // for R2: https://account-id.r2.cloudflarestorage.com
}

// New builds an S3Archiver and verifies the bucket is reachable.
func New(ctx context.Context, cfg Config) (*S3Archiver, error) {
	var awsCfg aws.Config
	var err error
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
			config.WithRegion(cfg.Region),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("archiver: load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	a := &S3Archiver{client: client, bucket: cfg.Bucket}
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, fmt.Errorf("archiver: access bucket %s: %w", cfg.Bucket, err)
	}
	return a, nil
}

// Archive streams the file at localPath to the bucket under key.
func (a *S3Archiver) Archive(ctx context.Context, localPath, key string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("archiver: open %s: %w", localPath, err)
	}
	defer f.Close()
	return a.upload(ctx, f, key)
}

func (a *S3Archiver) upload(ctx context.Context, r io.Reader, key string) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	if err != nil {
		return fmt.Errorf("archiver: upload %s: %w", key, err)
	}
	return nil
}

// FromConfig builds an S3Archiver from the pipeline's ambient
// PIPELINE_ARCHIVE_BACKEND/AWS_*/S3_* environment vars, returning
// (nil, nil) when archival is not configured (ArchiveBackend != "s3").
func FromConfig(ctx context.Context, archiveBackend, region, bucket, accessKey, secretKey, endpointURL string) (*S3Archiver, error) {
	if archiveBackend != "s3" {
		return nil, nil
	}
	if bucket == "" {
		return nil, fmt.Errorf("archiver: PIPELINE_ARCHIVE_BACKEND=s3 requires S3_BUCKET")
	}
	return New(ctx, Config{
		Region:      region,
		Bucket:      bucket,
		AccessKey:   accessKey,
		SecretKey:   secretKey,
		EndpointURL: endpointURL,
	})
}
