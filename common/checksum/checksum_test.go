package checksum

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  uint32
	}{
		{name: "empty", input: "", want: 0},
		{name: "check value", input: "123456789", want: 0xCBF43926},
		{name: "ascii", input: "hello world", want: 0x0D4A1185},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n, err := Reader(strings.NewReader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, int64(len(tt.input)), n)
			assert.Equal(t, tt.want, Bytes([]byte(tt.input)))
		})
	}
}

func TestReaderStreamsLargeInput(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789abcdef"), 1<<16)
	got, n, err := Reader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, Bytes(data), got)
	assert.Equal(t, int64(len(data)), n)
}

func TestFile(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/content/a.txt", []byte("123456789"), 0644))
	require.NoError(t, fsys.MkdirAll("/content/dir", 0755))

	sum, size, err := File(fsys, "/content/a.txt")
	require.NoError(t, err)
	assert.Equal(t, uint32(0xCBF43926), sum)
	assert.Equal(t, int64(9), size)

	_, _, err = File(fsys, "/content/dir")
	assert.Error(t, err)

	_, _, err = File(fsys, "/content/missing.txt")
	assert.Error(t, err)
}
