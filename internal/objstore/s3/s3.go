// Package s3 implements an objstore.Store backed by Amazon S3 or any
// S3-compatible service (MinIO, Ceph RGW). The Endpoint and ForcePathStyle
// config options exist for MinIO-style deployments.
//
// S3 has no native create-if-absent primitive on plain PutObject; the
// pipeline relies on generated uuid keys, so overwrites cannot occur in
// practice. Put performs a cheap HeadObject guard anyway and returns
// objstore.ErrExists when the key is already present.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"ingest/internal/objstore"
)

func init() {
	objstore.Register("s3", func(ctx context.Context, cfg objstore.Config) (objstore.Store, error) {
		return New(cfg)
	})
}

// Store is an S3-backed object store scoped to a single bucket.
type Store struct {
	client s3iface.S3API
	bucket string
}

// New opens an S3 session per the config. Credentials resolve through the
// default AWS chain (env, shared config, instance role).
func New(cfg objstore.Config) (*Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3: bucket must not be empty")
	}
	awsCfg := aws.NewConfig()
	if cfg.Region != "" {
		awsCfg = awsCfg.WithRegion(cfg.Region)
	}
	if cfg.Endpoint != "" {
		awsCfg = awsCfg.WithEndpoint(cfg.Endpoint)
	}
	if cfg.ForcePathStyle {
		awsCfg = awsCfg.WithS3ForcePathStyle(true)
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *awsCfg,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("s3: session: %w", err)
	}
	return &Store{client: awss3.New(sess), bucket: cfg.Bucket}, nil
}

// NewWithClient wires an explicit client; used by tests with an s3iface fake.
func NewWithClient(client s3iface.S3API, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// NewStatic builds a Store with static credentials, convenient for MinIO.
func NewStatic(cfg objstore.Config, accessKey, secretKey string) (*Store, error) {
	awsCfg := aws.NewConfig().
		WithRegion(cfg.Region).
		WithEndpoint(cfg.Endpoint).
		WithS3ForcePathStyle(cfg.ForcePathStyle).
		WithCredentials(credentials.NewStaticCredentials(accessKey, secretKey, ""))
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("s3: session: %w", err)
	}
	return &Store{client: awss3.New(sess), bucket: cfg.Bucket}, nil
}

func (s *Store) Put(ctx context.Context, key string, body []byte) error {
	_, err := s.client.HeadObjectWithContext(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return objstore.ErrExists
	}
	if aerr, ok := err.(awserr.RequestFailure); !ok || aerr.StatusCode() != 404 {
		return fmt.Errorf("s3: head %s: %w", key, err)
	}

	_, err = s.client.PutObjectWithContext(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		return fmt.Errorf("s3: put %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObjectWithContext(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case awss3.ErrCodeNoSuchKey, awss3.ErrCodeNoSuchBucket:
				return nil, objstore.ErrNotExist
			}
		}
		return nil, fmt.Errorf("s3: get %s: %w", key, err)
	}
	defer out.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, fmt.Errorf("s3: read %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]objstore.Object, error) {
	var objs []objstore.Object
	input := &awss3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	err := s.client.ListObjectsV2PagesWithContext(ctx, input,
		func(page *awss3.ListObjectsV2Output, lastPage bool) bool {
			for _, o := range page.Contents {
				objs = append(objs, objstore.Object{
					Key:     aws.StringValue(o.Key),
					Size:    aws.Int64Value(o.Size),
					ModTime: aws.TimeValue(o.LastModified),
				})
			}
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("s3: list %s: %w", prefix, err)
	}
	return objs, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("s3: delete %s: %w", key, err)
	}
	return nil
}
