package blobstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	body    string
	err     error
	lastKey string
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.lastKey = *in.Key
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func TestFetchKeyMaterialBlob(t *testing.T) {
	api := &fakeS3{body: `{"project_id":"bot-prod","token":"tk"}`}
	c, err := New(api, "nlu-credentials", "key-material")
	require.NoError(t, err)

	blob, err := c.FetchKeyMaterialBlob(context.Background(), "rec-1")
	require.NoError(t, err)
	require.JSONEq(t, `{"project_id":"bot-prod","token":"tk"}`, string(blob))
	require.Equal(t, "key-material/rec-1.json", api.lastKey)
}

func TestFetchKeyMaterialBlob_NoPrefix(t *testing.T) {
	api := &fakeS3{body: `{}`}
	c, err := New(api, "nlu-credentials", "")
	require.NoError(t, err)

	_, err = c.FetchKeyMaterialBlob(context.Background(), "rec-1")
	require.NoError(t, err)
	require.Equal(t, "rec-1.json", api.lastKey)
}

func TestFetchKeyMaterialBlob_EmptyRef(t *testing.T) {
	c, err := New(&fakeS3{}, "nlu-credentials", "")
	require.NoError(t, err)
	_, err = c.FetchKeyMaterialBlob(context.Background(), " ")
	require.Error(t, err)
}

func TestFetchKeyMaterialBlob_S3Error(t *testing.T) {
	api := &fakeS3{err: errors.New("access denied")}
	c, err := New(api, "nlu-credentials", "key-material")
	require.NoError(t, err)
	_, err = c.FetchKeyMaterialBlob(context.Background(), "rec-1")
	require.Error(t, err)
}
