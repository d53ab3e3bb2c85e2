package compression

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompress(t *testing.T) {
	t.Run("small payload untouched", func(t *testing.T) {
		out, compressed, err := Compress([]byte("tiny"))
		require.NoError(t, err)
		assert.False(t, compressed)
		assert.Equal(t, "tiny", string(out))
	})

	t.Run("large payload", func(t *testing.T) {
		in := []byte(strings.Repeat("clipboard ", 500))
		out, compressed, err := Compress(in)
		require.NoError(t, err)
		require.True(t, compressed)
		assert.Less(t, len(out), len(in))

		back, err := Decompress(out, compressed)
		require.NoError(t, err)
		assert.Equal(t, in, back)
	})
}
