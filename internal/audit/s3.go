package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// S3Config points the archive at a bucket; Endpoint and the static
// credentials are for s3-compatible stores like minio.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewS3Archive returns a sink that archives each audit event as a JSON
// object under prefix/YYYY/MM/DD/. Write failures are logged and dropped.
func NewS3Archive(ctx context.Context, cfg S3Config) (Sink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("must set audit s3 bucket")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &s3Archive{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

type s3Archive struct {
	client *s3.Client
	bucket string
	prefix string
}

func (a *s3Archive) Record(ctx context.Context, evt Event) {
	jsonb, err := json.Marshal(evt)
	if err != nil {
		log.Printf("audit: s3 marshal: %v", err)
		return
	}

	d := evt.Timestamp
	if d.IsZero() {
		d = time.Now()
	}
	key := fmt.Sprintf("%s%d/%02d/%02d/%v.json", keyPrefix(a.prefix), d.Year(), d.Month(), d.Day(), uuid.New())

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(jsonb),
	})
	if err != nil {
		log.Printf("audit: s3 put %v: %v", key, err)
	}
}

func keyPrefix(prefix string) string {
	if prefix == "" {
		return ""
	}
	if prefix[len(prefix)-1] == '/' {
		return prefix
	}
	return prefix + "/"
}
