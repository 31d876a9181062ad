package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrBlobNotFound is returned when a blob key does not exist.
var ErrBlobNotFound = errors.New("store: blob not found")

// BlobStore reads and writes attachment bytes keyed by their SHA-256
// hex digest (see BlobKey), grounded on eSlider-mail-archive's
// BlobStore abstraction.
type BlobStore interface {
	Write(ctx context.Context, key string, data []byte) error
	Read(ctx context.Context, key string) ([]byte, error)
}

// BlobKey derives the content-addressed key for a sha256 hex digest,
// sharded two levels deep so no single directory accumulates every
// attachment in the store.
func BlobKey(sha256Hex string) string {
	if len(sha256Hex) < 4 {
		return "misc/" + sha256Hex
	}
	return sha256Hex[0:2] + "/" + sha256Hex[2:4] + "/" + sha256Hex
}

// FSBlobStore stores blobs on the local filesystem, rooted at a
// directory created with owner-only permissions.
type FSBlobStore struct {
	root string
}

// NewFSBlobStore creates a filesystem-backed blob store rooted at dir.
func NewFSBlobStore(dir string) *FSBlobStore {
	return &FSBlobStore{root: filepath.Clean(dir)}
}

func (f *FSBlobStore) Write(ctx context.Context, key string, data []byte) error {
	path := filepath.Join(f.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func (f *FSBlobStore) Read(ctx context.Context, key string) ([]byte, error) {
	path := filepath.Join(f.root, filepath.FromSlash(key))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, err
	}
	return data, nil
}

// S3Config holds S3/MinIO connection settings, read from the
// environment the same way eSlider-mail-archive's storage package
// does, so an operator who already knows that convention can point
// mailcore at the same bucket.
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
}

// S3ConfigFromEnv reads S3 config from the environment. It returns
// nil when S3_ENDPOINT is unset, signalling the caller should fall
// back to a filesystem blob store.
func S3ConfigFromEnv() *S3Config {
	endpoint := os.Getenv("S3_ENDPOINT")
	if endpoint == "" {
		return nil
	}
	useSSL := true
	if v := os.Getenv("S3_USE_SSL"); v != "" {
		useSSL, _ = strconv.ParseBool(v)
	}
	return &S3Config{
		Endpoint:        normalizeEndpoint(endpoint, useSSL),
		AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		Bucket:          envOr("S3_BUCKET", "mailcore-attachments"),
		UseSSL:          useSSL,
		Region:          envOr("AWS_REGION", "us-east-1"),
	}
}

func normalizeEndpoint(endpoint string, useSSL bool) string {
	endpoint = strings.TrimSpace(endpoint)
	scheme := "https"
	if !useSSL {
		scheme = "http"
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		return scheme + "://" + endpoint
	}
	return endpoint
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// S3BlobStore stores blobs in an S3-compatible bucket via aws-sdk-go-v2.
type S3BlobStore struct {
	client *s3.Client
	bucket string
}

// NewS3BlobStore creates an S3-backed blob store from cfg, using
// path-style addressing so MinIO and other S3-compatible endpoints
// work without a wildcard DNS entry.
func NewS3BlobStore(ctx context.Context, cfg *S3Config) (*S3BlobStore, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, fmt.Errorf("store: S3 endpoint required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("store: S3 bucket required")
	}

	credProvider := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, opts ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: cfg.Endpoint, HostnameImmutable: true, SigningRegion: cfg.Region}, nil
	})

	client := s3.NewFromConfig(aws.Config{
		Region:                      cfg.Region,
		Credentials:                 credProvider,
		EndpointResolverWithOptions: resolver,
	}, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	store := &S3BlobStore{client: client, bucket: cfg.Bucket}
	if err := store.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *S3BlobStore) ensureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		var conflict *types.BucketAlreadyOwnedByYou
		if errors.As(err, &conflict) {
			return nil
		}
		return fmt.Errorf("store: create bucket %s: %w", s.bucket, err)
	}
	return nil
}

func (s *S3BlobStore) Write(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

func (s *S3BlobStore) Read(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		var notFound *types.NotFound
		if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
			return nil, ErrBlobNotFound
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// NewBlobStore selects an S3-backed store when S3_ENDPOINT is
// configured, falling back to a filesystem store rooted at dataDir
// otherwise — the same startup selection eSlider-mail-archive's
// storage.NewBlobStore makes.
func NewBlobStore(ctx context.Context, dataDir string) (BlobStore, error) {
	if cfg := S3ConfigFromEnv(); cfg != nil {
		return NewS3BlobStore(ctx, cfg)
	}
	return NewFSBlobStore(dataDir), nil
}
