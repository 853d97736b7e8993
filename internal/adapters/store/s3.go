package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type S3Options struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Prefix    string
}

// S3 stores each document as an object named Prefix+key+".json".
type S3 struct {
	client *s3.Client
	bucket string
	prefix string
}

// OpenS3 builds a client from static credentials. A custom endpoint
// (minio and friends) switches to path-style addressing.
func OpenS3(opts S3Options) (*S3, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	o := s3.Options{Region: opts.Region}
	if opts.AccessKey != "" {
		creds := aws.Credentials{AccessKeyID: opts.AccessKey, SecretAccessKey: opts.SecretKey, Source: "huddle"}
		o.Credentials = aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return creds, nil
		})
	}
	if opts.Endpoint != "" {
		o.BaseEndpoint = aws.String(opts.Endpoint)
		o.UsePathStyle = true
	}
	return &S3{client: s3.New(o), bucket: opts.Bucket, prefix: opts.Prefix}, nil
}

func (o S3Options) validate() error {
	if o.Bucket == "" {
		return errors.New("s3 bucket is required")
	}
	if o.Region == "" {
		return errors.New("s3 region is required")
	}
	if (o.AccessKey == "") != (o.SecretKey == "") {
		return errors.New("s3 access key and secret key go together")
	}
	if o.Endpoint != "" {
		if _, err := url.ParseRequestURI(o.Endpoint); err != nil {
			return errors.New("s3 endpoint must be an absolute url")
		}
	}
	return nil
}

func (s *S3) objectKey(key string) string {
	return s.prefix + url.PathEscape(key) + ".json"
}

func (s *S3) Store(ctx context.Context, key string, value []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(value),
		ContentType: aws.String("application/json"),
	})
	return err
}

func (s *S3) Load(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	var missing *types.NoSuchKey
	if errors.As(err, &missing) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer out.Body.Close()
	value, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *S3) Close() error { return nil }
