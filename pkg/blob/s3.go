package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cybershield/custody/pkg/crypto"
)

// S3Store implements Store on AWS S3. Objects are keyed by their content
// hash, so Put is idempotent.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Config holds configuration for S3Store.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional custom endpoint (MinIO, LocalStack)
	Prefix   string // optional key prefix
}

// NewS3Store creates an S3-backed blob store.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // required for MinIO/LocalStack
		}
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg, clientOpts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *S3Store) key(rawHash string) string {
	return s.prefix + rawHash + ".blob"
}

func (s *S3Store) Put(ctx context.Context, r io.Reader) (string, int64, error) {
	// S3 needs a seekable body for signing; spool through memory. The
	// filesystem backend is the default for large local attachments.
	var buf bytes.Buffer
	hasher := crypto.NewHasher()
	n, err := io.Copy(io.MultiWriter(&buf, hasher), r)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read blob: %w", err)
	}
	hash := hasher.Sum()
	key := s.key(strings.TrimPrefix(hash, crypto.HashPrefix))

	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return hash, n, nil // already stored
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		return "", 0, fmt.Errorf("s3 put failed: %w", err)
	}
	return hash, n, nil
}

func (s *S3Store) Open(ctx context.Context, hash string) (io.ReadCloser, error) {
	raw, err := parseHash(hash)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(raw)),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	return out.Body, nil
}

func (s *S3Store) Exists(ctx context.Context, hash string) (bool, error) {
	raw, err := parseHash(hash)
	if err != nil {
		return false, err
	}
	_, err = s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(raw)),
	})
	if err != nil {
		return false, nil
	}
	return true, nil
}
