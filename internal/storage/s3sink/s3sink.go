// Пакет s3sink — публикация готовых пакетов экспорта в S3-совместимое
// хранилище (AWS S3, MinIO). Каждый файл пакета загружается отдельным
// объектом с ключом <prefix>/<имя пакета>/<относительный путь>.
package s3sink

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config — параметры подключения к S3.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Prefix    string
}

// Enabled возвращает true, если задан bucket.
func (c Config) Enabled() bool {
	return c.Bucket != ""
}

// objectPutter — часть API клиента S3, используемая при публикации.
type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}
)

// Published — результат публикации пакета.
type Published struct {
	Bucket  string `json:"bucket"`
	Prefix  string `json:"prefix"`
	Objects int    `json:"objects"`
	Bytes   int64  `json:"bytes"`
}

// Sink — публикатор пакетов экспорта.
type Sink struct {
	client objectPutter
	bucket string
	prefix string
	logger *slog.Logger
}

// New создаёт клиент S3 по конфигурации.
// Если Endpoint задан, используется path-style адресация (MinIO).
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Sink, error) {
	if !cfg.Enabled() {
		return nil, errors.New("не задан bucket S3")
	}

	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	}

	awsCfg, err := loadDefaultAWSConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации S3: %w", err)
	}

	client := newS3ClientFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newSink(client, cfg.Bucket, cfg.Prefix, logger), nil
}

func newSink(client objectPutter, bucket, prefix string, logger *slog.Logger) *Sink {
	return &Sink{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		logger: logger.With(slog.String("component", "s3sink")),
	}
}

// Bucket возвращает имя bucket.
func (s *Sink) Bucket() string {
	return s.bucket
}

// PublishDir загружает все файлы каталога dir под ключом <prefix>/<name>/.
// Отмена проверяется перед каждым файлом.
func (s *Sink) PublishDir(ctx context.Context, dir, name string) (*Published, error) {
	base := path.Join(s.prefix, name)
	res := &Published{Bucket: s.bucket, Prefix: base}

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := path.Join(base, filepath.ToSlash(rel))

		n, err := s.putFile(ctx, p, key)
		if err != nil {
			return err
		}
		res.Objects++
		res.Bytes += n
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("ошибка публикации %s в s3://%s/%s: %w", dir, s.bucket, base, err)
	}

	s.logger.Info("Пакет опубликован",
		slog.String("bucket", s.bucket),
		slog.String("prefix", base),
		slog.Int("objects", res.Objects),
		slog.Int64("bytes", res.Bytes),
	)
	return res, nil
}

func (s *Sink) putFile(ctx context.Context, p, key string) (int64, error) {
	f, err := os.Open(p)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return 0, fmt.Errorf("загрузка %s: %w", key, err)
	}
	return info.Size(), nil
}
