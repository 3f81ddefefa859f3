package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/bobmcallan/covault/internal/common"
)

// S3BlobStore implements BlobStore against AWS S3 or any S3-compatible
// endpoint (MinIO, R2). Unlike the file backend it supports presigned
// download URLs, letting approved devices fetch file bytes directly.
type S3BlobStore struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
	logger  *common.Logger
}

// NewS3BlobStore creates an S3-backed blob store.
func NewS3BlobStore(ctx context.Context, logger *common.Logger, config *common.S3BlobConfig) (*S3BlobStore, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("s3 blob store bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(config.Region),
	}
	if config.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKey, config.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = true
		}
	})

	sb := &S3BlobStore{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  config.Bucket,
		prefix:  config.Prefix,
		logger:  logger,
	}

	logger.Debug().
		Str("bucket", config.Bucket).
		Str("region", config.Region).
		Msg("S3BlobStore initialized")
	return sb, nil
}

func (sb *S3BlobStore) objectKey(key string) string {
	if sb.prefix == "" {
		return key
	}
	return path.Join(sb.prefix, key)
}

// Get retrieves a blob by key.
func (sb *S3BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := sb.GetReader(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	return data, nil
}

// GetReader returns a reader streaming the object body.
func (sb *S3BlobStore) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := sb.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(sb.bucket),
		Key:    aws.String(sb.objectKey(key)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to get blob %s: %w", key, err)
	}
	return out.Body, nil
}

// Put stores a blob. Overwrites if exists.
func (sb *S3BlobStore) Put(ctx context.Context, key string, data []byte) error {
	return sb.PutReader(ctx, key, bytes.NewReader(data), int64(len(data)))
}

// PutReader stores a blob from a reader.
func (sb *S3BlobStore) PutReader(ctx context.Context, key string, r io.Reader, size int64) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(sb.bucket),
		Key:    aws.String(sb.objectKey(key)),
		Body:   r,
	}
	if size > 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := sb.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to put blob %s: %w", key, err)
	}
	return nil
}

// Delete removes a blob. No error if not found.
func (sb *S3BlobStore) Delete(ctx context.Context, key string) error {
	_, err := sb.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(sb.bucket),
		Key:    aws.String(sb.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

// Exists checks if a blob exists.
func (sb *S3BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := sb.Metadata(ctx, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrBlobNotFound) {
		return false, nil
	}
	return false, err
}

// Metadata returns metadata for a blob.
func (sb *S3BlobStore) Metadata(ctx context.Context, key string) (*BlobMetadata, error) {
	out, err := sb.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(sb.bucket),
		Key:    aws.String(sb.objectKey(key)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to head blob %s: %w", key, err)
	}

	meta := &BlobMetadata{
		Key:  key,
		Size: aws.ToInt64(out.ContentLength),
	}
	if out.ContentType != nil {
		meta.ContentType = *out.ContentType
	}
	if out.LastModified != nil {
		meta.LastModified = *out.LastModified
	}
	return meta, nil
}

// List returns blobs matching the given options.
func (sb *S3BlobStore) List(ctx context.Context, opts ListOptions) (*ListResult, error) {
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 1000
	}

	out, err := sb.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(sb.bucket),
		Prefix:  aws.String(sb.objectKey(opts.Prefix)),
		MaxKeys: aws.Int32(int32(maxKeys)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}

	blobs := make([]BlobMetadata, 0, len(out.Contents))
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		if sb.prefix != "" {
			key = key[len(sb.prefix)+1:]
		}
		meta := BlobMetadata{
			Key:  key,
			Size: aws.ToInt64(obj.Size),
		}
		if obj.LastModified != nil {
			meta.LastModified = *obj.LastModified
		}
		blobs = append(blobs, meta)
	}

	return &ListResult{
		Blobs:     blobs,
		Truncated: aws.ToBool(out.IsTruncated),
	}, nil
}

// PresignGet returns a time-limited direct download URL for the blob.
func (sb *S3BlobStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	req, err := sb.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(sb.bucket),
		Key:    aws.String(sb.objectKey(key)),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("failed to presign blob %s: %w", key, err)
	}
	return req.URL, nil
}

// Close releases resources (no-op for S3).
func (sb *S3BlobStore) Close() error {
	return nil
}

var _ BlobStore = (*S3BlobStore)(nil)
