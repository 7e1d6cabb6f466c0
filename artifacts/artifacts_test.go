package artifacts

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySink(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("")

	ptr, err := m.Put(ctx, "runs/r1/logs.txt", strings.NewReader("hello"), 5, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "s3://memory/runs/r1/logs.txt", ptr)
	assert.Equal(t, []string{"runs/r1/logs.txt"}, m.Keys())

	rc, err := m.Get(ctx, "runs/r1/logs.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = m.Get(ctx, "missing")
	assert.Error(t, err)
}

func TestMinioSinkRequiresConfig(t *testing.T) {
	_, err := NewMinioSink(MinioConfig{})
	assert.Error(t, err)

	_, err = NewMinioSink(MinioConfig{Endpoint: "localhost:9000"})
	assert.Error(t, err)

	sink, err := NewMinioSink(MinioConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"})
	require.NoError(t, err)
	assert.Equal(t, "runcore-artifacts", sink.bucket)
}
