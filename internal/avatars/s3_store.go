package avatars

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config selects the bucket and optional S3-compatible endpoint.
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3Store keeps images in an S3 bucket using the same key layout as LocalStore.
type S3Store struct {
	client s3API
	bucket string
	prefix string
}

// NewS3Store builds an S3 client from the default AWS credential chain, or
// from static keys when both are set.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: s3 bucket is required", ErrStorage)
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3Store(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3Store(client s3API, bucket, prefix string) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// Save uploads all three renditions, deleting earlier ones if a later upload fails.
func (s *S3Store) Save(ctx context.Context, account string, set ImageSet) error {
	original, large, small := Keys(account)
	objects := []struct {
		key  string
		data []byte
	}{
		{s.key(original), set.Original},
		{s.key(large), set.Large},
		{s.key(small), set.Small},
	}

	var written []string
	for _, obj := range objects {
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(obj.key),
			Body:        bytes.NewReader(obj.data),
			ContentType: aws.String("image/png"),
		})
		if err != nil {
			s.deleteKeys(ctx, written)
			return fmt.Errorf("%w: upload s3://%s/%s: %v", ErrStorage, s.bucket, obj.key, err)
		}
		written = append(written, obj.key)
	}
	return nil
}

// Delete removes every rendition for account. S3 treats missing keys as deleted.
func (s *S3Store) Delete(ctx context.Context, account string) error {
	original, large, small := Keys(account)
	if err := s.deleteKeys(ctx, []string{s.key(original), s.key(large), s.key(small)}); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

func (s *S3Store) deleteKeys(ctx context.Context, keys []string) error {
	var firstErr error
	for _, key := range keys {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("delete s3://%s/%s: %w", s.bucket, key, err)
		}
	}
	return firstErr
}

func (s *S3Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

var _ Store = (*S3Store)(nil)
