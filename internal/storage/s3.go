package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// S3Storage publishes to AWS S3 or any S3-compatible service through the
// minio client
type S3Storage struct {
	client *minio.Client
	region string
}

// NewS3Storage creates the client. It does not connect; use Health for that.
func NewS3Storage(endpoint, accessKey, secretKey, region string, useSSL bool) (*S3Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	log.Debug().Str("endpoint", endpoint).Str("region", region).Bool("ssl", useSSL).Msg("S3 client created")
	return &S3Storage{client: client, region: region}, nil
}

func (s *S3Storage) Name() string {
	return "s3"
}

// Health checks that the endpoint accepts the credentials
func (s *S3Storage) Health(ctx context.Context) error {
	if _, err := s.client.ListBuckets(ctx); err != nil {
		return fmt.Errorf("S3 health check failed: %w", err)
	}
	return nil
}

func (s *S3Storage) EnsureBucket(ctx context.Context, bucket string) (bool, error) {
	exists, err := s.BucketExists(ctx, bucket)
	if err != nil || exists {
		return false, err
	}
	if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "BucketAlreadyOwnedByYou" {
			return false, nil
		}
		return false, fmt.Errorf("failed to create bucket: %w", err)
	}
	return true, nil
}

func (s *S3Storage) BucketExists(ctx context.Context, bucket string) (bool, error) {
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return false, fmt.Errorf("failed to check bucket: %w", err)
	}
	return exists, nil
}

func (s *S3Storage) Put(ctx context.Context, bucket, key string, data []byte, opts PutOptions) (*Object, error) {
	info, err := s.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:    opts.ContentType,
		CacheControl:   opts.CacheControl,
		SendContentMd5: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload %s: %w", key, err)
	}

	log.Debug().Str("bucket", bucket).Str("key", key).Int64("size", info.Size).Msg("Object uploaded")
	return &Object{
		Key:          key,
		Size:         info.Size,
		ContentType:  opts.ContentType,
		CacheControl: opts.CacheControl,
		ETag:         info.ETag,
		Modified:     info.LastModified,
	}, nil
}

func (s *S3Storage) Stat(ctx context.Context, bucket, key string) (*Object, error) {
	stat, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	return &Object{
		Key:          key,
		Size:         stat.Size,
		ContentType:  stat.ContentType,
		CacheControl: stat.Metadata.Get("Cache-Control"),
		ETag:         stat.ETag,
		Modified:     stat.LastModified,
	}, nil
}

func (s *S3Storage) Walk(ctx context.Context, bucket, prefix string, fn func(Object) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for info := range s.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return fmt.Errorf("failed to list objects: %w", info.Err)
		}
		err := fn(Object{
			Key:         info.Key,
			Size:        info.Size,
			ContentType: info.ContentType,
			ETag:        info.ETag,
			Modified:    info.LastModified,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Remove checks for the key first because S3 deletes of missing keys succeed
func (s *S3Storage) Remove(ctx context.Context, bucket, key string) error {
	if _, err := s.Stat(ctx, bucket, key); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	log.Debug().Str("bucket", bucket).Str("key", key).Msg("Object removed")
	return nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
