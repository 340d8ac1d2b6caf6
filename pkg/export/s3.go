package export

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/coder/quartz"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/glimpse/pkg/ledger"
	"github.com/platinummonkey/glimpse/pkg/observability"
)

// S3Config locates the archive bucket.
type S3Config struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// PutObjectAPI is the subset of the S3 client the archiver needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// NewS3Client builds an S3 client. Static keys are used when both are set,
// otherwise the default credential chain.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// Archiver uploads ledger exports to object storage.
type Archiver struct {
	client PutObjectAPI
	bucket string
	prefix string
	clock  quartz.Clock
	tracer trace.Tracer
}

// NewArchiver creates an archiver writing under bucket/prefix.
func NewArchiver(client PutObjectAPI, bucket, prefix string, clock quartz.Clock) *Archiver {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Archiver{
		client: client,
		bucket: bucket,
		prefix: prefix,
		clock:  clock,
		tracer: observability.Tracer(),
	}
}

// Archive encodes snap and uploads it, returning the object key.
func (a *Archiver) Archive(ctx context.Context, snap ledger.Snapshot, f Format) (string, error) {
	if a.bucket == "" {
		return "", errors.New("archive bucket is not configured")
	}
	key := path.Join(a.prefix, fmt.Sprintf("glimpse-%s.%s", a.clock.Now().UTC().Format("20060102T150405Z"), f.Extension()))

	ctx, span := a.tracer.Start(ctx, "S3.PutObject",
		trace.WithAttributes(
			attribute.String("s3.operation", "PutObject"),
			attribute.String("s3.bucket", a.bucket),
			attribute.String("s3.key", key),
			attribute.String("content.type", f.ContentType()),
		),
	)
	defer span.End()

	var buf bytes.Buffer
	if err := Write(&buf, snap, f); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to encode export")
		return "", fmt.Errorf("failed to encode export: %w", err)
	}
	data := buf.Bytes()
	span.SetAttributes(attribute.Int("content.size", len(data)))

	hash := sha256.Sum256(data)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(f.ContentType()),
		Metadata: map[string]string{
			"checksum-sha256": hex.EncodeToString(hash[:]),
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upload to s3")
		return "", fmt.Errorf("failed to upload to s3: %w", err)
	}

	span.SetStatus(codes.Ok, "export archived")
	return key, nil
}
