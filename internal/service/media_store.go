package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	config "github.com/maheshrc27/postcraft/configs"
)

// MediaStore keeps uploaded media where destinations can pull it from.
type MediaStore interface {
	// Upload stores data under key and returns its public URL.
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// R2MediaStore writes to a Cloudflare R2 bucket through its S3 API.
type R2MediaStore struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

func NewR2MediaStore(ctx context.Context, cfg config.R2) (*R2MediaStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		awsconfig.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("load r2 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID))
	})

	return &R2MediaStore{
		client:    client,
		bucket:    cfg.BucketName,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
	}, nil
}

func (r *R2MediaStore) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}

	if _, err := r.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("upload %s to r2: %w", key, err)
	}

	return r.publicURL + "/" + key, nil
}
