package rag

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// maxCorpusObjectSize caps how much of an S3 object is read.
const maxCorpusObjectSize = 64 << 20

// ObjectGetter is the subset of the S3 client the corpus loader uses.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewS3Getter builds an S3 client from the default credential chain.
func NewS3Getter(ctx context.Context, region, endpoint string) (*s3.Client, error) {
	region = strings.TrimSpace(region)
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	endpoint = strings.TrimSpace(endpoint)
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// ParseS3URI splits s3://bucket/key.
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("rag: not an s3 uri: %q", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	key = strings.TrimLeft(key, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("rag: s3 uri needs a bucket and key: %q", uri)
	}
	return bucket, key, nil
}

// FetchS3Object downloads the object named by uri and returns its body and key.
func FetchS3Object(ctx context.Context, getter ObjectGetter, uri string) ([]byte, string, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return nil, "", err
	}
	out, err := getter.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", fmt.Errorf("s3 get object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxCorpusObjectSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("s3 read object: %w", err)
	}
	if len(data) > maxCorpusObjectSize {
		return nil, "", fmt.Errorf("rag: corpus object %s exceeds %d bytes", uri, maxCorpusObjectSize)
	}
	return data, key, nil
}
