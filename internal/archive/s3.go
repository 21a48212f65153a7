package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLabCore/internal/config"
	"github.com/KevinKickass/OpenLabCore/internal/task"
)

// ObjectStore is the part of the S3 client the archive uses.
type ObjectStore interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Archive uploads the CSV export of finished executions to a bucket.
type Archive struct {
	client ObjectStore
	bucket string
	prefix string
	logger *zap.Logger
}

// New builds an S3 client. A configured endpoint selects path style
// addressing for MinIO.
func New(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger) (*Archive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}

	region := cfg.Region
	if cfg.Endpoint != "" {
		// MinIO ignoriert die Region
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "http://" + endpoint
		}
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return NewWithClient(client, cfg.Bucket, cfg.Prefix, logger), nil
}

func NewWithClient(client ObjectStore, bucket, prefix string, logger *zap.Logger) *Archive {
	return &Archive{client: client, bucket: bucket, prefix: prefix, logger: logger}
}

// Key returns the object key of an exported file.
func (a *Archive) Key(executionID uuid.UUID, name string) string {
	return path.Join(a.prefix, executionID.String(), name)
}

type object struct {
	ctx  context.Context
	a    *Archive
	key  string
	body bytes.Buffer
}

func (o *object) Write(p []byte) (int, error) { return o.body.Write(p) }

func (o *object) Close() error {
	_, err := o.a.client.PutObject(o.ctx, &s3.PutObjectInput{
		Bucket:      aws.String(o.a.bucket),
		Key:         aws.String(o.key),
		Body:        bytes.NewReader(o.body.Bytes()),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", o.key, err)
	}
	return nil
}

// Upload exports every spectrum of data as CSV and stores it under
// <prefix>/<execution>/. It returns the object keys written before the
// first failure.
func (a *Archive) Upload(ctx context.Context, executionID uuid.UUID, data *task.ExperimentData) ([]string, error) {
	names, err := data.ExportCSV(func(name string) (io.WriteCloser, error) {
		return &object{ctx: ctx, a: a, key: a.Key(executionID, name)}, nil
	})

	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = a.Key(executionID, n)
	}
	if err != nil {
		return keys, err
	}

	a.logger.Info("Execution archived",
		zap.String("execution_id", executionID.String()),
		zap.String("bucket", a.bucket),
		zap.Int("files", len(keys)))
	return keys, nil
}

// Fetch returns the content of an archived object.
func (a *Archive) Fetch(ctx context.Context, key string) ([]byte, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}
