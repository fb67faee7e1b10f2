// Package media выдает подписанные ссылки для загрузки материалов курсов
// в S3-совместимое хранилище (Cloudflare R2).
package media

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	appconfig "write-paid/internal/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
)

// UploadExpiry срок действия подписанной ссылки
const UploadExpiry = 15 * time.Minute

// ErrUnsupportedType тип файла не поддерживается
var ErrUnsupportedType = errors.New("неподдерживаемый тип файла")

// Upload подписанная ссылка для загрузки
type Upload struct {
	Key       string            `json:"key"`
	UploadURL string            `json:"uploadUrl"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers"`
	PublicURL string            `json:"publicUrl"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// Signer подписывает загрузки в бакет
type Signer struct {
	presign       *s3.PresignClient
	bucket        string
	publicBaseURL string
	logger        *zap.Logger
}

// NewSigner создает клиент хранилища по настройкам
func NewSigner(ctx context.Context, cfg appconfig.StorageConfig, logger *zap.Logger) (*Signer, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации хранилища: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	publicBaseURL := cfg.PublicBaseURL
	if publicBaseURL == "" {
		publicBaseURL = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket
	}

	return &Signer{
		presign:       s3.NewPresignClient(client),
		bucket:        cfg.Bucket,
		publicBaseURL: publicBaseURL,
		logger:        logger,
	}, nil
}

// SignUpload возвращает ссылку для PUT загрузки файла filename
func (s *Signer) SignUpload(ctx context.Context, filename, contentType string) (*Upload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if !strings.HasPrefix(contentType, "video/") && !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}

	key := ObjectKey(filename)
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(UploadExpiry))
	if err != nil {
		return nil, fmt.Errorf("ошибка подписи загрузки: %w", err)
	}

	headers := make(map[string]string, len(req.SignedHeader))
	for name, values := range req.SignedHeader {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	s.logger.Info("выдана ссылка на загрузку",
		zap.String("key", key),
		zap.String("content_type", contentType))

	return &Upload{
		Key:       key,
		UploadURL: req.URL,
		Method:    req.Method,
		Headers:   headers,
		PublicURL: s.publicBaseURL + "/" + key,
		ExpiresAt: time.Now().UTC().Add(UploadExpiry),
	}, nil
}

// ObjectKey строит ключ объекта courses/<uuid>-<slug имени><расширение>
func ObjectKey(filename string) string {
	name := filepath.Base(strings.TrimSpace(filename))
	ext := filepath.Ext(name)
	if ext == name {
		ext = ""
	}
	base := slug.Make(strings.TrimSuffix(name, ext))
	if base == "" {
		base = "file"
	}
	return fmt.Sprintf("courses/%s-%s%s", uuid.NewString(), base, strings.ToLower(ext))
}
