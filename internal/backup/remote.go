// Portarius - Data Migration, Import/Export, and Backup Engine
// Copyright 2026 Portarius Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/portarius/portarius

package backup

import (
	"context"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3Client is the slice of the S3 API the remote store uses, kept
// narrow for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3-compatible object storage settings. Endpoint is
// optional and supports MinIO-style deployments.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string

	// Prefix is prepended to every object key.
	Prefix string
}

// RemoteStore pushes backup archives to S3-compatible object storage.
type RemoteStore struct {
	client s3Client
	bucket string
	prefix string
}

// NewRemoteStore builds a remote store from static credentials.
// Path-style addressing keeps custom endpoints working.
func NewRemoteStore(cfg S3Config) *RemoteStore {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return &RemoteStore{
		client: s3.New(opts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}
}

func (r *RemoteStore) key(filename string) string {
	if r.prefix == "" {
		return filename
	}
	return path.Join(r.prefix, filename)
}

// Upload pushes one archive and returns the remote object key.
func (r *RemoteStore) Upload(ctx context.Context, filename string, body io.Reader, size int64) (string, error) {
	key := r.key(filename)
	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	return key, nil
}

// Download streams a previously uploaded archive.
func (r *RemoteStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return out.Body, nil
}

// Delete removes a remote object. Deleting an absent key succeeds, so
// retention retries stay idempotent.
func (r *RemoteStore) Delete(ctx context.Context, key string) error {
	_, err := r.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}
