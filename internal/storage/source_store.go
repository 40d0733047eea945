package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"flashcard-server/internal/config"
)

// SourceStore - объектное хранилище загруженных исходных документов.
type SourceStore interface {
	// Put сохраняет содержимое файла и возвращает имя объекта.
	Put(ctx context.Context, userID uuid.UUID, filename string, data []byte) (string, error)
	// Get возвращает содержимое объекта.
	Get(ctx context.Context, objectName string) ([]byte, error)
}

// Compile-time check
var _ SourceStore = (*minioSourceStore)(nil)

type minioSourceStore struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// NewMinioSourceStore создает хранилище исходников поверх MinIO и
// гарантирует существование бакета.
func NewMinioSourceStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (SourceStore, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания MinIO клиента: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки бакета '%s': %w", cfg.MinioBucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("ошибка создания бакета '%s': %w", cfg.MinioBucket, err)
		}
		logger.Info("MinIO bucket created", zap.String("bucket", cfg.MinioBucket))
	}

	return &minioSourceStore{
		client: client,
		bucket: cfg.MinioBucket,
		logger: logger.Named("MinioSourceStore"),
	}, nil
}

// Put сохраняет содержимое файла под ключом <userID>/<uuid><ext>.
func (s *minioSourceStore) Put(ctx context.Context, userID uuid.UUID, filename string, data []byte) (string, error) {
	objectName := fmt.Sprintf("%s/%s%s", userID.String(), uuid.NewString(), path.Ext(filename))

	_, err := s.client.PutObject(ctx, s.bucket, objectName,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentTypeFor(filename)})
	if err != nil {
		s.logger.Error("Failed to upload source file",
			zap.String("object", objectName), zap.Error(err))
		return "", fmt.Errorf("ошибка загрузки файла в хранилище: %w", err)
	}

	s.logger.Info("Source file uploaded",
		zap.String("object", objectName), zap.Int("size", len(data)))
	return objectName, nil
}

// Get возвращает содержимое объекта.
func (s *minioSourceStore) Get(ctx context.Context, objectName string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("ошибка получения объекта '%s': %w", objectName, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения объекта '%s': %w", objectName, err)
	}
	return data, nil
}

func contentTypeFor(filename string) string {
	switch path.Ext(filename) {
	case ".md":
		return "text/markdown"
	case ".html", ".htm":
		return "text/html"
	default:
		return "text/plain"
	}
}
