// Package publish uploads finished result files to an S3-compatible bucket.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"
	"path/filepath"
	"strings"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/banshee-data/demand.sensitivity/internal/fsutil"
	"github.com/banshee-data/demand.sensitivity/internal/monitoring"
)

// Config describes the publication target. Credentials fall back to the
// default AWS chain when AccessKeyID is empty.
type Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // optional, e.g. MinIO
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string

	// HTTPClient replaces the SDK transport. Tests use it.
	HTTPClient *http.Client
}

// Publisher uploads files under Prefix/<run id>/.
type Publisher struct {
	client *s3.Client
	bucket string
	prefix string
	fs     fsutil.FileSystem
}

// New creates a Publisher for cfg.
func New(ctx context.Context, cfg Config, fsys fsutil.FileSystem) (*Publisher, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.PathStyle || cfg.Endpoint != "" {
			o.UsePathStyle = true
		}
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.HTTPClient != nil {
			o.HTTPClient = cfg.HTTPClient
		}
	})
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &Publisher{client: client, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/"), fs: fsys}, nil
}

// Key returns the object key a local file is published under.
func (p *Publisher) Key(runID, localPath string) string {
	return path.Join(p.prefix, runID, filepath.Base(localPath))
}

// Publish uploads each file and returns their s3:// URIs in order. It stops
// at the first failure.
func (p *Publisher) Publish(ctx context.Context, runID string, files ...string) ([]string, error) {
	uris := make([]string, 0, len(files))
	for _, f := range files {
		data, err := p.fs.ReadFile(f)
		if err != nil {
			return uris, fmt.Errorf("reading %s: %w", f, err)
		}
		key := p.Key(runID, f)
		_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType(f)),
			Metadata:    map[string]string{"run-id": runID},
		})
		if err != nil {
			return uris, fmt.Errorf("uploading %s to s3://%s/%s: %w", f, p.bucket, key, err)
		}
		uri := "s3://" + p.bucket + "/" + key
		monitoring.Opsf("published %s", uri)
		uris = append(uris, uri)
	}
	return uris, nil
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "text/csv"
	case ".html":
		return "text/html"
	case ".png":
		return "image/png"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}
