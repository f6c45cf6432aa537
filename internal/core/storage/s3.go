package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"catalog-api/internal/core/config"
)

var ErrInvalidImageID = errors.New("storage: invalid image id")

type Image struct {
	URL string `json:"url"`
	ID  string `json:"id"`
}

// S3API 图片存储用到的 *s3.Client 子集
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3ImageStore struct {
	client  S3API
	bucket  string
	prefix  string
	baseURL string
}

// NewS3ImageStore 构建 S3 兼容端点（AWS 或 MinIO）的客户端
func NewS3ImageStore(ctx context.Context, c config.Storage) (*S3ImageStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(c.Region)}
	if c.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
			o.UsePathStyle = true
		}
	})

	baseURL := c.PublicBaseURL
	if baseURL == "" {
		if c.Endpoint != "" {
			baseURL = strings.TrimRight(c.Endpoint, "/") + "/" + c.Bucket
		} else {
			baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", c.Bucket, c.Region)
		}
	}
	return NewS3ImageStoreWithClient(client, c.Bucket, c.Prefix, baseURL), nil
}

func NewS3ImageStoreWithClient(client S3API, bucket, prefix, baseURL string) *S3ImageStore {
	if prefix == "" {
		prefix = "products/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3ImageStore{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (s *S3ImageStore) Upload(ctx context.Context, name, contentType string, body io.Reader) (Image, error) {
	id := uuid.NewString() + strings.ToLower(path.Ext(name))
	key := s.prefix + id
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return Image{}, fmt.Errorf("put %s: %w", key, err)
	}
	return Image{ID: id, URL: s.baseURL + "/" + key}, nil
}

func (s *S3ImageStore) Destroy(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return ErrInvalidImageID
	}
	key := s.prefix + id
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
