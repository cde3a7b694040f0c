// Package archive keeps a copy of every imported file in S3.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// PutObjectAPI is the subset of the S3 client the archiver uses.
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver uploads import files under a key prefix.
type S3Archiver struct {
	client PutObjectAPI
	bucket string
	prefix string
}

// NewS3Archiver creates an archiver. A non-empty prefix is joined to keys
// with exactly one slash.
func NewS3Archiver(client PutObjectAPI, bucket, prefix string) *S3Archiver {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Archiver{client: client, bucket: bucket, prefix: prefix}
}

// Store uploads content under prefix+key and returns its s3:// location.
func (a *S3Archiver) Store(ctx context.Context, key string, content []byte) (string, error) {
	fullKey := a.prefix + strings.TrimPrefix(key, "/")

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(fullKey),
		Body:          bytes.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
		ContentType:   aws.String("text/csv"),
	})
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", fullKey, err)
	}
	return fmt.Sprintf("s3://%s/%s", a.bucket, fullKey), nil
}
