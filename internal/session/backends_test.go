package session

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestKeyringBackend(t *testing.T) {
	keyring.MockInit()
	ctx := context.Background()
	s := New(NewKeyringBackend(), testOrigin)

	require.NoError(t, s.Login(ctx, "A1", "R1"))
	require.NoError(t, s.MarkRefreshFailed(ctx))

	creds, err := s.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A1", creds.AccessToken)
	assert.True(t, creds.RefreshAttemptFailed)

	raw, err := keyring.Get("egov", "egov::"+testOrigin)
	require.NoError(t, err)
	assert.Contains(t, raw, `"refresh_attempt_failed":"true"`)

	require.NoError(t, s.Clear(ctx))
	_, err = keyring.Get("egov", "egov::"+testOrigin)
	assert.ErrorIs(t, err, keyring.ErrNotFound)

	// Clearing an absent entry is not an error.
	require.NoError(t, s.Clear(ctx))
}

func TestKeyringAvailableWithMock(t *testing.T) {
	keyring.MockInit()
	assert.True(t, KeyringAvailable())
}

func newRedisBackend(t *testing.T) (*RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBackend(client), mr
}

func TestRedisBackendStoresHash(t *testing.T) {
	ctx := context.Background()
	backend, mr := newRedisBackend(t)
	s := New(backend, testOrigin)

	require.NoError(t, s.Login(ctx, "A1", "R1"))

	assert.Equal(t, "A1", mr.HGet("egov:session:"+testOrigin, "access_token"))
	assert.Equal(t, "R1", mr.HGet("egov:session:"+testOrigin, "refresh_token"))
	assert.Empty(t, mr.HGet("egov:session:"+testOrigin, "refresh_attempt_failed"))

	require.NoError(t, s.MarkRefreshFailed(ctx))
	assert.Equal(t, "true", mr.HGet("egov:session:"+testOrigin, "refresh_attempt_failed"))

	require.NoError(t, s.StoreRefreshed(ctx, "A2", ""))
	assert.Equal(t, "", mr.HGet("egov:session:"+testOrigin, "refresh_attempt_failed"))

	require.NoError(t, s.Clear(ctx))
	assert.False(t, mr.Exists("egov:session:"+testOrigin))
}

func TestRedisBackendSharedBetweenSessions(t *testing.T) {
	ctx := context.Background()
	backend, _ := newRedisBackend(t)

	writer := New(backend, testOrigin)
	reader := New(backend, testOrigin)
	require.NoError(t, writer.Login(ctx, "A1", "R1"))

	token, err := reader.AccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A1", token)
}

func TestRedisBackendConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	backend, _ := newRedisBackend(t)

	const n = 4
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- backend.Update(ctx, testOrigin, func(values map[string]string) error {
				values[string(rune('a'+i))] = "x"
				return nil
			})
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrContended)
		}
	}

	values, err := backend.Load(ctx, testOrigin)
	require.NoError(t, err)
	assert.NotEmpty(t, values)
}

func TestSessionCloseReleasesRedisClient(t *testing.T) {
	ctx := context.Background()
	backend, _ := newRedisBackend(t)
	s := New(backend, testOrigin)
	require.NoError(t, s.Login(ctx, "A1", "R1"))

	require.NoError(t, s.Close())

	_, err := backend.Load(ctx, testOrigin)
	assert.ErrorIs(t, err, redis.ErrClosed)
}

func TestSessionCloseWithoutConnections(t *testing.T) {
	assert.NoError(t, New(NewMemoryBackend(), testOrigin).Close())
	assert.NoError(t, New(NewFileBackend(t.TempDir()), testOrigin).Close())
}
