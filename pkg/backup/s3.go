package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/openfroyo/policyforge/pkg/engine"
	"github.com/rs/zerolog"
)

// ObjectAPI is the subset of the S3 client used by S3Store.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Config configures an S3Store.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // custom endpoint for MinIO or LocalStack
	Prefix   string
}

// S3Store keeps backups as objects in an S3 bucket.
type S3Store struct {
	client ObjectAPI
	bucket string
	prefix string
	logger zerolog.Logger
	now    func() time.Time
}

// NewS3Store creates a store using the default AWS credential chain.
func NewS3Store(ctx context.Context, cfg S3Config, logger zerolog.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 backup bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3StoreWithClient(client, cfg, logger), nil
}

// NewS3StoreWithClient creates a store on an existing client.
func NewS3StoreWithClient(client ObjectAPI, cfg S3Config, logger zerolog.Logger) *S3Store {
	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
		logger: logger.With().Str("component", "backup-s3").Logger(),
		now:    time.Now,
	}
}

// Create uploads content as a new backup object.
func (s *S3Store) Create(ctx context.Context, target engine.Target, content []byte) (engine.BackupHandle, error) {
	at := s.now().UTC()
	name := engine.BackupName(target, at)
	key := s.prefix + name

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("text/plain"),
		Metadata: map[string]string{
			"host":     target.Host,
			"platform": string(target.Platform),
		},
	})
	if err != nil {
		return engine.BackupHandle{}, fmt.Errorf("s3 put failed: %w", err)
	}

	platform := target.Platform
	if platform == "" {
		platform = engine.PlatformGeneric
	}
	s.logger.Debug().Str("target", target.Host).Str("key", key).Msg("Backup uploaded")
	return engine.BackupHandle{
		ID:        name,
		Host:      target.Host,
		Platform:  platform,
		CreatedAt: at,
		Location:  fmt.Sprintf("s3://%s/%s", s.bucket, key),
	}, nil
}

// Exists reports whether the backup object is still present.
func (s *S3Store) Exists(ctx context.Context, handle engine.BackupHandle) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + handle.ID),
	})
	if err == nil {
		return true, nil
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return false, nil
	}
	return false, fmt.Errorf("s3 head failed for %s: %w", handle.ID, err)
}

// Read downloads the backup content.
func (s *S3Store) Read(ctx context.Context, handle engine.BackupHandle) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.prefix + handle.ID),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 get failed for %s: %w", handle.ID, err)
	}
	defer func() { _ = out.Body.Close() }()

	return io.ReadAll(out.Body)
}
