package service

import (
	"context"
	"io"
	"strings"

	commoncfg "fieldops/common/config"
	"fieldops/common/errors"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioPhotoStorage S3 兼容对象存储
type MinioPhotoStorage struct {
	client  *minio.Client
	bucket  string
	baseURL string
}

// NewMinioPhotoStorage 创建客户端（不访问网络）
func NewMinioPhotoStorage(cfg commoncfg.ObjectStorageConfig) (*MinioPhotoStorage, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("storage endpoint is required")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create minio client")
	}

	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		bucket = "job-photos"
	}
	baseURL := strings.TrimRight(cfg.PublicBaseURL, "/")
	if baseURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		baseURL = scheme + "://" + endpoint + "/" + bucket
	}
	return &MinioPhotoStorage{client: client, bucket: bucket, baseURL: baseURL}, nil
}

// EnsureBucket bucket 不存在时创建
func (s *MinioPhotoStorage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return errors.Wrapf(err, "failed to check bucket %s", s.bucket)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return errors.Wrapf(err, "failed to create bucket %s", s.bucket)
	}
	return nil
}

// Put 上传照片
func (s *MinioPhotoStorage) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	if size <= 0 {
		size = -1
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", err
	}
	return s.URL(key), nil
}

// URL 对象的公开地址
func (s *MinioPhotoStorage) URL(key string) string {
	return s.baseURL + "/" + key
}
