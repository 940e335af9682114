package astimuxer

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfiguration(t *testing.T) {
	// Default
	c, err := NewConfiguration("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfiguration(), c)

	// File
	path := filepath.Join(t.TempDir(), "astimuxer.toml")
	require.NoError(t, os.WriteFile(path, []byte(`backend = "custom"

[pipeline]
max_queued_buffers = 8

[write]
timeout = "2s"

[server]
addr = "127.0.0.1:4000"
`), 0644))
	c, err = NewConfiguration(path)
	require.NoError(t, err)
	assert.Equal(t, BackendNameCustom, c.Backend)
	assert.Equal(t, 8, c.Pipeline.MaxQueuedBuffers)
	assert.Equal(t, DefaultConfiguration().Pipeline.FragmentSamples, c.Pipeline.FragmentSamples)
	assert.Equal(t, 2*time.Second, c.Write.Timeout.Duration)
	assert.False(t, c.Write.NonBlocking)
	assert.Equal(t, "127.0.0.1:4000", c.Server.Addr)
	assert.Equal(t, 5*time.Second, c.Stats.Period.Duration)

	// Invalid
	require.NoError(t, os.WriteFile(path, []byte(`[write]
timeout = "invalid"`), 0644))
	_, err = NewConfiguration(path)
	assert.Error(t, err)
	_, err = NewConfiguration(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestParseContainerFormat(t *testing.T) {
	for s, f := range map[string]ContainerFormat{
		"mp4":  ContainerFormatMP4,
		".M4A": ContainerFormatMP4,
		"3gp":  ContainerFormat3GP,
		"wav":  ContainerFormatWAV,
		"aac":  ContainerFormatADTS,
		"amr":  ContainerFormatAMRNB,
		"awb":  ContainerFormatAMRWB,
	} {
		v, err := ParseContainerFormat(s)
		require.NoError(t, err)
		assert.Equal(t, f, v)
	}
	_, err := ParseContainerFormat("mkv")
	assert.Equal(t, ErrorCodeInvalidParameter, Code(err))
}
