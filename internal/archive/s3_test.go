package archive

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	input *s3.PutObjectInput
	body  string
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	b, _ := io.ReadAll(in.Body)
	f.body = string(b)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestS3Archiver_Store(t *testing.T) {
	client := &fakeS3{}
	a := NewS3Archiver(client, "onboard-files", "imports")

	loc, err := a.Store(context.Background(), "startup/imp-1.csv", []byte("Name,Phone\n"))
	require.NoError(t, err)

	assert.Equal(t, "s3://onboard-files/imports/startup/imp-1.csv", loc)
	assert.Equal(t, "imports/startup/imp-1.csv", aws.ToString(client.input.Key))
	assert.Equal(t, "text/csv", aws.ToString(client.input.ContentType))
	assert.Equal(t, int64(11), aws.ToInt64(client.input.ContentLength))
	assert.Equal(t, "Name,Phone\n", client.body)
}

func TestS3Archiver_NoPrefix(t *testing.T) {
	client := &fakeS3{}
	loc, err := NewS3Archiver(client, "b", "").Store(context.Background(), "/mentor/x.csv", nil)
	require.NoError(t, err)
	assert.Equal(t, "s3://b/mentor/x.csv", loc)
}

func TestS3Archiver_Error(t *testing.T) {
	client := &fakeS3{err: errors.New("access denied")}
	_, err := NewS3Archiver(client, "b", "imports/").Store(context.Background(), "k.csv", []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "imports/k.csv")
}
