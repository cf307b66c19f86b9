package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestNewClientRequiresBucket(t *testing.T) {
	_, err := NewClient(Config{Endpoint: "localhost:9000", Access: "a", Secret: "b"})
	assert.Error(t, err)

	client, err := NewClient(Config{Endpoint: "localhost:9000", Access: "a", Secret: "b", Bucket: "images"})
	require.NoError(t, err)
	assert.Equal(t, "images", client.Bucket())
	assert.Equal(t, int64(DefaultMaxObjectBytes), client.maxObjectBytes)
}

func TestSourceObjectKey(t *testing.T) {
	assert.Equal(t, "uploads/abc/source", SourceObjectKey("abc"))
}

func TestClientIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping minio integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     "minioadmin",
				"MINIO_ROOT_PASSWORD": "minioadmin",
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client, err := NewClient(Config{
		Endpoint:       endpoint,
		Access:         "minioadmin",
		Secret:         "minioadmin",
		Bucket:         "pixelnorm-test",
		MaxObjectBytes: 16,
	})
	require.NoError(t, err)
	require.NoError(t, client.EnsureBucket(ctx))
	require.NoError(t, client.EnsureBucket(ctx))

	exists, err := client.ObjectExists(ctx, "outputs/job/web.webp")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, client.WriteObject(ctx, "outputs/job/web.webp", []byte("RIFF0000WEBP"), "image/webp"))
	exists, err = client.ObjectExists(ctx, "outputs/job/web.webp")
	require.NoError(t, err)
	assert.True(t, exists)

	data, err := client.ReadObject(ctx, "outputs/job/web.webp")
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF0000WEBP"), data)

	require.NoError(t, client.WriteObject(ctx, "big", make([]byte, 32), "application/octet-stream"))
	_, err = client.ReadObject(ctx, "big")
	assert.ErrorIs(t, err, ErrObjectTooLarge)

	url, err := client.PresignedPutURL(ctx, SourceObjectKey("job"), time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, fmt.Sprintf("/%s/uploads/job/source", client.Bucket()))
}
