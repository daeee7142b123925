package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/sepich/project-image-cache/pkg/model"
)

var _ ObjectStore = &S3Store{}

type S3Options struct {
	Bucket string
	// PublicBaseURL, when set, is joined with the object path to build public links.
	// Otherwise links are presigned for PresignTTL.
	PublicBaseURL string
	PresignTTL    time.Duration
	Logger        *zap.Logger
}

type S3Store struct {
	bucket     string
	baseURL    string
	presignTTL time.Duration
	client     *s3.Client
	presign    *s3.PresignClient
	uploader   *manager.Uploader
	logger     *zap.Logger
}

func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})
	// check access on startup
	_, err = client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(opts.Bucket),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access S3 bucket `%s`: %w", opts.Bucket, err)
	}
	return newS3Store(client, opts), nil
}

func newS3Store(client *s3.Client, opts S3Options) *S3Store {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := opts.PresignTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &S3Store{
		bucket:     opts.Bucket,
		baseURL:    strings.TrimSuffix(opts.PublicBaseURL, "/"),
		presignTTL: ttl,
		client:     client,
		presign:    s3.NewPresignClient(client),
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.Concurrency = 4
			u.LeavePartsOnError = false
		}),
		logger: logger,
	}
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]model.RemoteObject, error) {
	dir := strings.TrimSuffix(prefix, "/") + "/"
	p := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(dir),
		Delimiter: aws.String("/"),
	})
	var out []model.RemoteObject
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", dir, err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), dir)
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			out = append(out, model.RemoteObject{Name: name, Size: aws.ToInt64(obj.Size)})
		}
	}
	s.logger.Debug("listed objects", zap.String("prefix", dir), zap.Int("count", len(out)))
	return out, nil
}

func (s *S3Store) PublicURL(ctx context.Context, path string) (string, error) {
	if s.baseURL != "" {
		return url.JoinPath(s.baseURL, strings.Split(path, "/")...)
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	}, s3.WithPresignExpires(s.presignTTL))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", path, err)
	}
	return req.URL, nil
}

func (s *S3Store) Upload(ctx context.Context, path string, body io.Reader, size int64, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(path),
		Body:         body,
		CacheControl: aws.String(uploadCacheControl),
	}
	if size > 0 {
		in.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.uploader.Upload(ctx, in); err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}
	return nil
}

func (s *S3Store) Remove(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}
