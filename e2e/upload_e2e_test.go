//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	onedriveapi "github.com/tonimelisma/onedrive-api"
	"github.com/tonimelisma/onedrive-api/internal/upload"
	"github.com/tonimelisma/onedrive-api/pkg/quickxorhash"
)

// remoteFolder collects every file the live tests write. Uploads replace
// existing names, so reruns do not accumulate files.
var remoteFolder = onedriveapi.ItemRef{Path: "/onedrive-api-e2e"}

func newClient(t *testing.T) *onedriveapi.Client {
	t.Helper()

	c, err := onedriveapi.New(settings, nil, nil)
	require.NoError(t, err)

	return c
}

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()

	b := make([]byte, n)
	_, err := rand.Read(b)
	require.NoError(t, err)

	return b
}

func hashOf(b []byte) string {
	h := quickxorhash.New()
	_, _ = h.Write(b)

	return h.Base64()
}

func TestE2E_GetAccessToken(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	st, err := newClient(t).GetAccessToken(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, st.AccessToken)
	assert.True(t, st.ExpiresAt.After(time.Now()))
}

func TestE2E_UploadSmallFile(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	data := []byte(fmt.Sprintf("small e2e %d\n", time.Now().UnixNano()))

	item, err := newClient(t).UploadSmallFile(ctx, remoteFolder, "small.txt", bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, "small.txt", item.Name)
	assert.Equal(t, int64(len(data)), item.Size)

	if item.QuickXorHash != "" {
		assert.Equal(t, hashOf(data), item.QuickXorHash)
	}
}

func TestE2E_UploadEmptyFile(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	item, err := newClient(t).Upload(ctx, remoteFolder, "empty.bin", bytes.NewReader(nil), 0, nil)
	require.NoError(t, err)
	assert.Zero(t, item.Size)
}

func TestE2E_UploadLargeFile(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	// Three fragments at the default size, the last one short.
	data := randomBytes(t, int(2*upload.DefaultFragmentSize+123_457))
	path := filepath.Join(t.TempDir(), "large.bin")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	progress := make(chan onedriveapi.Progress, 16)

	item, err := newClient(t).UploadFile(ctx, remoteFolder, path, "", progress)
	require.NoError(t, err)
	assert.Equal(t, "large.bin", item.Name)
	assert.Equal(t, int64(len(data)), item.Size)
	assert.Len(t, progress, 3)

	if item.QuickXorHash != "" {
		assert.Equal(t, hashOf(data), item.QuickXorHash)
	}
}

func TestE2E_UploadLargeFileTransferPolicy(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	s := *settings
	s.RetryPolicy = upload.RetryTransfer
	s.FragmentSize = 320 * 1024 * 4

	c, err := onedriveapi.New(&s, nil, nil)
	require.NoError(t, err)

	data := randomBytes(t, 3_000_000)

	item, err := c.UploadLargeFile(ctx, remoteFolder, "restartable.bin", bytes.NewReader(data), int64(len(data)), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), item.Size)
}
