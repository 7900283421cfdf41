package gcs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	bytes.Buffer
	closed      bool
	object      string
	contentType string
	canceled    bool
	ctx         context.Context
}

func (w *recordingWriter) Close() error {
	w.closed = true
	w.canceled = w.ctx.Err() != nil
	return nil
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	var got *recordingWriter
	store, err := newBlobStore(Config{Bucket: "price-archive"}, func(ctx context.Context, bucket, object, contentType string) io.WriteCloser {
		require.Equal(t, "price-archive", bucket)
		got = &recordingWriter{object: object, contentType: contentType, ctx: ctx}
		return got
	})
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "ebay/incomplete/a.html", "text/html", strings.NewReader("<html/>"))
	require.NoError(t, err)
	require.Equal(t, "gs://price-archive/ebay/incomplete/a.html", uri)
	require.Equal(t, "<html/>", got.String())
	require.Equal(t, "text/html", got.contentType)
	require.True(t, got.closed)
	require.False(t, got.canceled)
}

func TestPutObjectAbortsOnReadError(t *testing.T) {
	t.Parallel()

	var got *recordingWriter
	store, err := newBlobStore(Config{Bucket: "b"}, func(ctx context.Context, _, object, _ string) io.WriteCloser {
		got = &recordingWriter{object: object, ctx: ctx}
		return got
	})
	require.NoError(t, err)

	_, err = store.PutObject(context.Background(), "x.html", "", errReader{})
	require.Error(t, err)
	require.True(t, got.canceled)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
	_, err = newBlobStore(Config{}, nil)
	require.Error(t, err)

	store, err := newBlobStore(Config{Bucket: "b"}, nil)
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "", "", strings.NewReader(""))
	require.Error(t, err)
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("boom") }
