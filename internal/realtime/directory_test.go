// internal/realtime/directory_test.go
package realtime

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Property: identical (topic, config) pairs always yield the same channel;
// differing configs yield distinct channels.
func TestDirectoryIdentityProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	d := NewDirectory(testOptions(newMockTransport()))

	properties.Property("same key returns same channel", prop.ForAll(
		func(topic string, ack bool, key string, attempts int) bool {
			cfg := DefaultChannelConfig()
			cfg.Broadcast.Ack = ack
			cfg.Presence.Key = key
			cfg.ReconnectAttempts = attempts

			same := cfg
			return d.Channel(topic, &cfg) == d.Channel(topic, &same)
		},
		gen.AlphaString(),
		gen.Bool(),
		gen.AlphaString(),
		gen.IntRange(0, 10),
	))

	properties.Property("different config returns different channel", prop.ForAll(
		func(topic string, key string) bool {
			a := DefaultChannelConfig()
			a.Presence.Key = key
			b := a
			b.Presence.Key = key + "-other"
			return d.Channel(topic, &a) != d.Channel(topic, &b)
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestDirectoryChannelDefaults(t *testing.T) {
	d := NewDirectory(testOptions(newMockTransport()))
	def := DefaultChannelConfig()

	a := d.Channel("room", nil)
	b := d.Channel("room", &def)
	assert.Same(t, a, b, "nil config equals the default config")
	assert.Equal(t, StateIdle, a.State(), "channels are not connected on creation")
	assert.Len(t, d.Channels(), 1)
}

func TestDirectoryConcurrentGetOrCreate(t *testing.T) {
	d := NewDirectory(testOptions(newMockTransport()))

	var wg sync.WaitGroup
	results := make([]*Channel, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = d.Channel("contended", nil)
		}(i)
	}
	wg.Wait()

	for _, ch := range results {
		assert.Same(t, results[0], ch)
	}
}

func TestDirectorySetAuthPropagates(t *testing.T) {
	tr := newMockTransport()
	d := NewDirectory(testOptions(tr))

	idle := d.Channel("idle", nil)
	open := d.Channel("open", fastConfig())
	require.NoError(t, open.Subscribe(context.Background(), nil))
	defer open.Unsubscribe()
	conn := tr.waitConn(t)

	token := "t1"
	d.SetAuth(&token)

	assert.Equal(t, "t1", *idle.Token())
	f := conn.expect(t, TypeAccessToken)
	assert.Equal(t, "t1", f.str("token"))
	conn.push(t, map[string]any{"type": "ack", "payload": map[string]any{"type": "access_token"}})

	// Equal credential is a no-op.
	same := "t1"
	d.SetAuth(&same)
	conn.quiet(t, TypeAccessToken, 50*time.Millisecond)

	// Channels created later inherit the credential.
	later := d.Channel("later", nil)
	assert.Equal(t, "t1", *later.Token())
	assert.Equal(t, "t1", *d.Token())
}

func TestDirectorySetAuthNilReconnectsLiveChannels(t *testing.T) {
	tr := newMockTransport()
	d := NewDirectory(testOptions(tr))
	token := "t1"
	d.SetAuth(&token)

	ch := d.Channel("room", fastConfig())
	require.NoError(t, ch.Subscribe(context.Background(), nil))
	defer ch.Unsubscribe()
	tr.waitConn(t)

	d.SetAuth(nil)
	tr.waitConn(t)
	u, err := url.Parse(tr.lastURL())
	require.NoError(t, err)
	assert.False(t, u.Query().Has("access_token"))
	assert.Nil(t, d.Token())
}

func TestDirectoryRemoveChannel(t *testing.T) {
	tr := newMockTransport()
	d := NewDirectory(testOptions(tr))

	ch := d.Channel("room", fastConfig())
	require.NoError(t, ch.Subscribe(context.Background(), nil))
	conn := tr.waitConn(t)

	assert.Equal(t, StatusOK, d.RemoveChannel(ch))
	conn.expect(t, TypeUnsubscribe)
	assert.Equal(t, StateClosed, ch.State())
	assert.Empty(t, d.Channels())

	// Removing again, or removing a channel never created here, is an error.
	assert.Equal(t, StatusError, d.RemoveChannel(ch))
	stray := NewChannel("room", fastConfig(), testOptions(tr))
	assert.Equal(t, StatusError, d.RemoveChannel(stray))
	assert.Equal(t, StatusError, d.RemoveChannel(nil))

	// A fresh request builds a new instance.
	assert.NotSame(t, ch, d.Channel("room", fastConfig()))
}

func TestDirectoryRemoveAllChannels(t *testing.T) {
	tr := newMockTransport()
	d := NewDirectory(testOptions(tr))

	a := d.Channel("a", fastConfig())
	b := d.Channel("b", fastConfig())
	d.Channel("c", nil) // never subscribed
	require.NoError(t, a.Subscribe(context.Background(), nil))
	require.NoError(t, b.Subscribe(context.Background(), nil))
	tr.waitConn(t)
	tr.waitConn(t)

	d.RemoveAllChannels()
	assert.Empty(t, d.Channels())
	assert.Equal(t, StateClosed, a.State())
	assert.Equal(t, StateClosed, b.State())

	// Tolerates being called on an empty directory.
	d.RemoveAllChannels()
}

func TestDirectoryRefreshCallbackPropagates(t *testing.T) {
	tr := newMockTransport()
	d := NewDirectory(testOptions(tr))
	existing := d.Channel("room", fastConfig())

	d.SetRefreshCallback(func(ctx context.Context) (string, error) { return "fresh", nil })
	later := d.Channel("later", fastConfig())

	for _, ch := range []*Channel{existing, later} {
		ch.mu.Lock()
		assert.NotNil(t, ch.refresh, ch.Topic())
		ch.mu.Unlock()
	}
}

func TestDirectoryScheduledRefresh(t *testing.T) {
	tr := newMockTransport()
	opts := testOptions(tr)
	opts.RefreshLeeway = time.Second
	d := NewDirectory(opts)
	defer d.Close()

	// Expires 1.1s from now, so refresh is due in roughly 100ms.
	expiring, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(1100 * time.Millisecond).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	refreshed := make(chan struct{}, 1)
	d.SetRefreshCallback(func(ctx context.Context) (string, error) {
		select {
		case refreshed <- struct{}{}:
		default:
		}
		return "renewed", nil
	})
	d.SetAuth(&expiring)

	select {
	case <-refreshed:
	case <-time.After(3 * time.Second):
		t.Fatal("refresh callback not invoked before expiry")
	}
	require.Eventually(t, func() bool {
		tok := d.Token()
		return tok != nil && *tok == "renewed"
	}, time.Second, 10*time.Millisecond)
}

func TestDirectoryStats(t *testing.T) {
	d := NewDirectory(testOptions(newMockTransport()))
	ch := d.Channel("room", nil)
	ch.On(KindBroadcast, Criteria{}, func(Event) {})

	stats := d.Stats()
	require.Equal(t, 1, stats.Channels)
	assert.Equal(t, "room", stats.ChannelDetails[0].Topic)
	assert.Equal(t, StateIdle, stats.ChannelDetails[0].State)
	assert.Equal(t, 1, stats.ChannelDetails[0].Subscriptions)
}
