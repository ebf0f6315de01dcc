// Package mirror copies downloaded wheels to an S3-compatible bucket.
package mirror

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/explosion/wheelwright/src/artifact"
	"github.com/explosion/wheelwright/src/config"
	"github.com/explosion/wheelwright/src/logger"
	"github.com/explosion/wheelwright/src/provider"
)

// ObjectAPI is the subset of *s3.Client used by the mirror.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Mirror uploads wheels under <prefix>/<release-id>/<name>.
type S3Mirror struct {
	api    ObjectAPI
	bucket string
	prefix string
	logger logger.Logger
}

// New builds a mirror from cfg. An empty endpoint uses AWS itself;
// anything else (SeaweedFS, MinIO) is addressed directly.
func New(ctx context.Context, cfg config.S3Config, log logger.Logger) (*S3Mirror, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("%w: S3_BUCKET is not set", provider.ErrConfig)
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithHTTPClient(&http.Client{Timeout: 5 * time.Minute}),
	}
	if cfg.AccessKey != "" || cfg.SecretKey != "" {
		if cfg.AccessKey == "" || cfg.SecretKey == "" {
			return nil, fmt.Errorf("%w: S3_ACCESS_KEY and S3_SECRET_KEY must be set together", provider.ErrConfig)
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := Endpoint(cfg.Endpoint, cfg.DisableTLS)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewWithAPI(client, cfg.Bucket, cfg.Prefix, log), nil
}

// NewWithAPI wraps an existing client.
func NewWithAPI(api ObjectAPI, bucket, prefix string, log logger.Logger) *S3Mirror {
	if log == nil {
		log = logger.NewSilentLogger()
	}
	return &S3Mirror{api: api, bucket: bucket, prefix: strings.Trim(prefix, "/"), logger: log}
}

// Endpoint adds a scheme to a bare host:port.
func Endpoint(endpoint string, disableTLS bool) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" || strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	scheme := "https"
	if disableTLS {
		scheme = "http"
	}
	return scheme + "://" + endpoint
}

// Key returns the object key of a wheel.
func (m *S3Mirror) Key(releaseID, name string) string {
	return path.Join(m.prefix, releaseID, name)
}

// MirrorAssets uploads every downloaded asset. Assets that were not written
// to disk are skipped. All failures are returned together.
func (m *S3Mirror) MirrorAssets(ctx context.Context, releaseID string, assets []artifact.Asset) error {
	var errs []error
	for _, a := range assets {
		if a.Path == "" {
			continue
		}
		key := m.Key(releaseID, a.Name)
		if err := m.put(ctx, key, a.Path); err != nil {
			errs = append(errs, fmt.Errorf("mirror %s: %w", a.Name, err))
			continue
		}
		m.logger.Info("Mirrored %s to s3://%s/%s", a.Name, m.bucket, key)
	}
	return errors.Join(errs...)
}

func (m *S3Mirror) put(ctx context.Context, key, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	digest := h.Sum(nil)
	checksum := base64.StdEncoding.EncodeToString(digest)

	_, err = m.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:            aws.String(m.bucket),
		Key:               aws.String(key),
		Body:              f,
		ContentLength:     aws.Int64(size),
		ContentType:       aws.String(contentType(key)),
		ChecksumAlgorithm: s3types.ChecksumAlgorithmSha256,
		ChecksumSHA256:    aws.String(checksum),
		Metadata: map[string]string{
			"sha256": hex.EncodeToString(digest),
		},
	})
	return err
}

func contentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".whl"):
		return "application/zip"
	case strings.HasSuffix(key, ".tar.gz"):
		return "application/gzip"
	default:
		return "application/octet-stream"
	}
}
