package minio

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"advisory-service/internal/config"
	"advisory-service/internal/models"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// maxContentSize bounds how much of a content object is read into an advisory.
const maxContentSize = 64 * 1024

// MinioClient serves advisory content templates stored as objects in the content bucket.
type MinioClient struct {
	client *minio.Client
	config config.MinioConfig
	log    *zap.Logger
}

// NewMinioClient initializes a new MinIO client with the provided configuration
func NewMinioClient(cfg config.MinioConfig, log *zap.Logger) (*MinioClient, error) {
	endpoint := strings.TrimPrefix(cfg.MinioURL, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	isSecure, err := strconv.ParseBool(cfg.MinioSecure)
	if err != nil {
		log.Warn("invalid value for MinIO secure flag, defaulting to false", zap.Error(err))
		isSecure = false
	}

	minioClient, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: isSecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mc := &MinioClient{
		client: minioClient,
		config: cfg,
		log:    log,
	}

	if err := mc.ensureBucket(ctx, cfg.ContentBucket); err != nil {
		return nil, fmt.Errorf("failed to ensure content bucket: %w", err)
	}

	log.Info("connected to MinIO", zap.String("url", cfg.MinioURL), zap.String("bucket", cfg.ContentBucket))
	return mc, nil
}

// ensureBucket creates a bucket if it doesn't exist
func (mc *MinioClient) ensureBucket(ctx context.Context, bucketName string) error {
	exists, err := mc.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("error checking bucket existence: %w", err)
	}

	if !exists {
		err := mc.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{
			Region: mc.config.MinioLocation,
		})
		if err != nil {
			return fmt.Errorf("error creating bucket %s: %w", bucketName, err)
		}
		mc.log.Info("created bucket", zap.String("bucket", bucketName))
	}

	return nil
}

// ContentObjectNames lists the object names tried for a content key, most specific first.
func ContentObjectNames(key, language string) []string {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return nil
	}
	names := make([]string, 0, 2)
	if language != "" {
		names = append(names, fmt.Sprintf("%s.%s.txt", key, strings.ToLower(language)))
	}
	return append(names, key+".txt")
}

// GetContent returns the advisory text linked to key, preferring the farmer's language.
// models.ErrContentNotFound is returned when no variant exists.
func (mc *MinioClient) GetContent(ctx context.Context, key, language string) (string, error) {
	for _, objectName := range ContentObjectNames(key, language) {
		object, err := mc.client.GetObject(ctx, mc.config.ContentBucket, objectName, minio.GetObjectOptions{})
		if err != nil {
			return "", fmt.Errorf("failed to get content %s: %w", objectName, err)
		}

		data, err := io.ReadAll(io.LimitReader(object, maxContentSize))
		object.Close()
		if err != nil {
			if minio.ToErrorResponse(err).Code == "NoSuchKey" {
				continue
			}
			return "", fmt.Errorf("failed to read content %s: %w", objectName, err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return "", fmt.Errorf("content key %q: %w", key, models.ErrContentNotFound)
}

// PutContent uploads or replaces a content object.
func (mc *MinioClient) PutContent(ctx context.Context, key, language string, data []byte) error {
	names := ContentObjectNames(key, language)
	if len(names) == 0 {
		return fmt.Errorf("content key is required")
	}
	objectName := names[0]
	_, err := mc.client.PutObject(ctx, mc.config.ContentBucket, objectName, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"})
	if err != nil {
		return fmt.Errorf("failed to upload content %s to bucket %s: %w", objectName, mc.config.ContentBucket, err)
	}

	mc.log.Info("uploaded advisory content", zap.String("object", objectName), zap.Int("bytes", len(data)))
	return nil
}

// Ping verifies the content bucket is reachable.
func (mc *MinioClient) Ping(ctx context.Context) error {
	_, err := mc.client.BucketExists(ctx, mc.config.ContentBucket)
	return err
}
