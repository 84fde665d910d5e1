package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStoreRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewBlobStore()
	ctx := context.Background()

	uri, err := s.PutObject(ctx, "polygon/0xabc/images/0.gif", "image/gif", bytes.NewReader([]byte("gif")))
	require.NoError(t, err)
	assert.Equal(t, "memory://polygon/0xabc/images/0.gif", uri)

	data, ct, ok := s.Object("polygon/0xabc/images/0.gif")
	require.True(t, ok)
	assert.Equal(t, "gif", string(data))
	assert.Equal(t, "image/gif", ct)

	assert.Equal(t, []string{"polygon/0xabc/images/0.gif"}, s.Paths())

	_, _, ok = s.Object("missing")
	assert.False(t, ok)
}
