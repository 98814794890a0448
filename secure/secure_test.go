package secure_test

import (
	"context"
	"encoding/base64"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rasha-hantash/locscout/secure"
	"github.com/rasha-hantash/locscout/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBox(t *testing.T) (*secure.Box, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), store.DefaultFileName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return secure.NewBox(s), s
}

func TestEncryptDecrypt(t *testing.T) {
	ctx := context.Background()
	box, s := newBox(t)

	blob, err := box.Encrypt(ctx, "sk-test-123")
	require.NoError(t, err)
	assert.NotContains(t, blob, "sk-test-123")

	// The key is created once and reused.
	key, _, err := s.Get(ctx, store.KeySecretKey)
	require.NoError(t, err)
	assert.Len(t, key, 32)

	plain, err := box.Decrypt(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", plain)

	again, err := box.Encrypt(ctx, "sk-test-123")
	require.NoError(t, err)
	assert.NotEqual(t, blob, again, "nonce must differ between encryptions")
}

func TestDecryptRejectsTampering(t *testing.T) {
	ctx := context.Background()
	box, _ := newBox(t)

	blob, err := box.Encrypt(ctx, "secret")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(blob)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff

	_, err = box.Decrypt(ctx, base64.StdEncoding.EncodeToString(raw))
	assert.Error(t, err)

	_, err = box.Decrypt(ctx, "not base64!")
	assert.Error(t, err)

	_, err = box.Decrypt(ctx, base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
}

func TestConcurrentFirstUseSharesOneKey(t *testing.T) {
	ctx := context.Background()
	_, s := newBox(t)

	const callers = 8
	blobs := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			blobs[i], errs[i] = secure.NewBox(s).Encrypt(ctx, "sk-race")
		}()
	}
	wg.Wait()

	reader := secure.NewBox(s)
	for i := range callers {
		require.NoError(t, errs[i])
		plain, err := reader.Decrypt(ctx, blobs[i])
		require.NoError(t, err, "blob %d", i)
		assert.Equal(t, "sk-race", plain)
	}
}
