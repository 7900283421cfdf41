package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "amazon/blocked/x.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://amazon/blocked/x.html", uri)

	payload[0] = 'C'
	body, contentType, ok := store.Object("amazon/blocked/x.html")
	require.True(t, ok)
	require.Equal(t, "content", string(body))
	require.Equal(t, "text/html", contentType)
	require.Equal(t, []string{"amazon/blocked/x.html"}, store.Paths())

	_, _, ok = store.Object("missing")
	require.False(t, ok)
}
