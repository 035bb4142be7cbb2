package ssh

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolGetDialsOnFirstUse(t *testing.T) {
	dials := 0
	pool := NewPool()
	pool.Register("home", Config{Host: "home.example.com"}, testCreds,
		withDialer(func(ctx context.Context, cfg Config, cred Credential) (transportClient, error) {
			dials++
			return newFakeTransport(), nil
		}))

	conn, err := pool.Get(context.Background(), "home")
	require.NoError(t, err)
	assert.True(t, conn.IsConnected())
	assert.Equal(t, 1, dials)

	// Second Get reuses the live connection.
	again, err := pool.Get(context.Background(), "home")
	require.NoError(t, err)
	assert.Same(t, conn, again)
	assert.Equal(t, 1, dials)
}

func TestPoolLookupDoesNotDial(t *testing.T) {
	dials := 0
	pool := NewPool()
	pool.Register("home", Config{Host: "h"}, testCreds,
		withDialer(func(ctx context.Context, cfg Config, cred Credential) (transportClient, error) {
			dials++
			return newFakeTransport(), nil
		}))

	conn, err := pool.Lookup("home")
	require.NoError(t, err)
	assert.Equal(t, StateDisconnected, conn.State())
	assert.Equal(t, 0, dials)

	// Lookup is stable until the connection dies for good.
	again, err := pool.Lookup("home")
	require.NoError(t, err)
	assert.Same(t, conn, again)

	require.NoError(t, conn.Close())
	fresh, err := pool.Lookup("home")
	require.NoError(t, err)
	assert.NotSame(t, conn, fresh)

	_, err = pool.Lookup("nope")
	assert.Error(t, err)
}

func TestPoolGetUnknownHost(t *testing.T) {
	pool := NewPool()
	_, err := pool.Get(context.Background(), "nope")
	require.Error(t, err)
	var netErr *NetworkError
	assert.ErrorAs(t, err, &netErr)
}

func TestPoolGetIfConnected(t *testing.T) {
	pool := NewPool()
	pool.Register("home", Config{Host: "h"}, testCreds,
		withDialer(func(ctx context.Context, cfg Config, cred Credential) (transportClient, error) {
			return newFakeTransport(), nil
		}))

	assert.Nil(t, pool.GetIfConnected("home"))

	conn, err := pool.Get(context.Background(), "home")
	require.NoError(t, err)
	assert.Same(t, conn, pool.GetIfConnected("home"))
}

func TestPoolCloseKeepsRegistration(t *testing.T) {
	dials := 0
	pool := NewPool()
	pool.Register("home", Config{Host: "h"}, testCreds,
		withDialer(func(ctx context.Context, cfg Config, cred Credential) (transportClient, error) {
			dials++
			return newFakeTransport(), nil
		}))

	first, err := pool.Get(context.Background(), "home")
	require.NoError(t, err)
	pool.Close("home")
	assert.Equal(t, StateFatal, first.State())

	// The host can be redialed with a fresh connection.
	second, err := pool.Get(context.Background(), "home")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, dials)
}

func TestPoolCloseAll(t *testing.T) {
	pool := NewPool()
	for _, id := range []string{"a", "b"} {
		pool.Register(id, Config{Host: id}, testCreds,
			withDialer(func(ctx context.Context, cfg Config, cred Credential) (transportClient, error) {
				return newFakeTransport(), nil
			}))
		_, err := pool.Get(context.Background(), id)
		require.NoError(t, err)
	}

	pool.CloseAll()
	assert.Nil(t, pool.GetIfConnected("a"))
	assert.Nil(t, pool.GetIfConnected("b"))

	hosts := pool.ListHosts()
	sort.Strings(hosts)
	assert.Equal(t, []string{"a", "b"}, hosts)
}

func TestPoolReRegisterReplacesConnection(t *testing.T) {
	pool := NewPool()
	pool.Register("home", Config{Host: "old"}, testCreds,
		withDialer(func(ctx context.Context, cfg Config, cred Credential) (transportClient, error) {
			return newFakeTransport(), nil
		}))
	old, err := pool.Get(context.Background(), "home")
	require.NoError(t, err)

	pool.Register("home", Config{Host: "new"}, testCreds,
		withDialer(func(ctx context.Context, cfg Config, cred Credential) (transportClient, error) {
			assert.Equal(t, "new", cfg.Host)
			return newFakeTransport(), nil
		}))

	assert.Equal(t, StateFatal, old.State())
	fresh, err := pool.Get(context.Background(), "home")
	require.NoError(t, err)
	assert.NotSame(t, old, fresh)
}
