// internal/realtime/directory.go
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/markb/sbrealtime/internal/credential"
	"github.com/markb/sbrealtime/internal/log"
	"github.com/puzpuzpuz/xsync/v3"
)

// Directory creates and caches channels keyed by topic and configuration,
// and pushes credential changes into every cached channel.
type Directory struct {
	opts     Options
	channels *xsync.MapOf[uint64, *Channel]

	// mu serializes credential changes against channel creation so a new
	// channel never misses an update.
	mu           sync.RWMutex
	token        *string
	refresh      RefreshFunc
	refreshTimer *time.Timer
	closed       bool
}

// DirectoryStats contains directory statistics
type DirectoryStats struct {
	Channels       int            `json:"channels"`
	ChannelDetails []ChannelStats `json:"channel_details"`
}

// ChannelStats contains per-channel statistics
type ChannelStats struct {
	Topic         string `json:"topic"`
	State         State  `json:"state"`
	Subscriptions int    `json:"subscriptions"`
	PresenceKeys  int    `json:"presence_keys"`
	PendingAcks   int    `json:"pending_acks"`
}

// NewDirectory creates a new Directory
func NewDirectory(opts Options) *Directory {
	return &Directory{
		opts:     opts.withDefaults(),
		channels: xsync.NewMapOf[uint64, *Channel](),
	}
}

// Channel returns the cached channel for topic and cfg, creating it if
// needed. The channel is not connected. A nil cfg uses DefaultChannelConfig.
func (d *Directory) Channel(topic string, cfg *ChannelConfig) *Channel {
	config := DefaultChannelConfig()
	if cfg != nil {
		config = cfg.withDefaults()
	}
	return d.getOrCreate(scopeNone, topic, config, nil)
}

// ExecutionLogs returns a channel bound to the log stream of one execution.
// An empty executionType means DefaultExecutionType.
func (d *Directory) ExecutionLogs(executionID, executionType string) *ExecutionLogsChannel {
	return d.ExecutionLogsWithConfig(executionID, executionType, nil)
}

// ExecutionLogsWithConfig is ExecutionLogs with an explicit channel config.
// A nil cfg uses DefaultChannelConfig. Scoped channels are cached apart from
// plain channels on the same topic.
func (d *Directory) ExecutionLogsWithConfig(executionID, executionType string, cfg *ChannelConfig) *ExecutionLogsChannel {
	if executionType == "" {
		executionType = DefaultExecutionType
	}
	config := DefaultChannelConfig()
	if cfg != nil {
		config = cfg.withDefaults()
	}
	topic := ExecutionLogTopic(executionID, executionType)
	ch := d.getOrCreate(scopeExecutionLog, topic, config, func(ch *Channel) {
		scopeExecutionLogs(ch, executionID, executionType)
	})
	return &ExecutionLogsChannel{
		Channel:       ch,
		executionID:   executionID,
		executionType: executionType,
	}
}

// getOrCreate looks up or builds a channel. init runs once on a new channel
// before it is published.
func (d *Directory) getOrCreate(scope, topic string, config ChannelConfig, init func(*Channel)) *Channel {
	key := channelKey(scope, topic, config)

	d.mu.RLock()
	defer d.mu.RUnlock()

	ch, _ := d.channels.LoadOrCompute(key, func() *Channel {
		ch := newChannel(topic, config, d.opts)
		ch.key = key
		ch.token = copyToken(d.token)
		ch.refresh = d.refresh
		if init != nil {
			init(ch)
		}
		log.Debug("realtime: channel created", "topic", topic)
		return ch
	})
	return ch
}

// Channels returns all cached channels (snapshot)
func (d *Directory) Channels() []*Channel {
	var out []*Channel
	d.channels.Range(func(_ uint64, ch *Channel) bool {
		out = append(out, ch)
		return true
	})
	return out
}

// Stats returns current directory statistics
func (d *Directory) Stats() DirectoryStats {
	channels := d.Channels()
	stats := DirectoryStats{
		Channels:       len(channels),
		ChannelDetails: make([]ChannelStats, 0, len(channels)),
	}
	for _, ch := range channels {
		stats.ChannelDetails = append(stats.ChannelDetails, ChannelStats{
			Topic:         ch.Topic(),
			State:         ch.State(),
			Subscriptions: ch.registry.Len(),
			PresenceKeys:  ch.presence.Len(),
			PendingAcks:   ch.acks.Len(),
		})
	}
	return stats
}

// Token returns the last applied credential, or nil
func (d *Directory) Token() *string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return copyToken(d.token)
}

// SetAuth applies a credential to every cached channel. Equal credentials
// are ignored. A JWT credential schedules the refresh callback ahead of its
// expiry.
func (d *Directory) SetAuth(token *string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if equalTokens(d.token, token) {
		return
	}
	d.token = copyToken(token)
	d.scheduleRefreshLocked()

	d.channels.Range(func(_ uint64, ch *Channel) bool {
		ch.UpdateToken(copyToken(token))
		return true
	})
}

// SetRefreshCallback installs fn on every cached channel and on channels
// created later.
func (d *Directory) SetRefreshCallback(fn RefreshFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.refresh = fn
	d.scheduleRefreshLocked()
	d.channels.Range(func(_ uint64, ch *Channel) bool {
		ch.setRefreshFunc(fn)
		return true
	})
}

// RemoveChannel unsubscribes ch and evicts it. Channels this directory did
// not create yield StatusError.
func (d *Directory) RemoveChannel(ch *Channel) Status {
	if ch == nil {
		return StatusError
	}
	var removed bool
	d.channels.Compute(ch.key, func(existing *Channel, loaded bool) (*Channel, bool) {
		if !loaded || existing != ch {
			return existing, !loaded
		}
		removed = true
		return nil, true
	})
	if !removed {
		log.Debug("realtime: remove of untracked channel", "topic", ch.Topic())
		return StatusError
	}
	ch.Unsubscribe()
	return StatusOK
}

// RemoveAllChannels unsubscribes and evicts every cached channel
func (d *Directory) RemoveAllChannels() {
	for _, ch := range d.Channels() {
		d.RemoveChannel(ch)
	}
}

// Close removes all channels and stops credential refresh
func (d *Directory) Close() {
	d.mu.Lock()
	d.closed = true
	if d.refreshTimer != nil {
		d.refreshTimer.Stop()
		d.refreshTimer = nil
	}
	d.mu.Unlock()
	d.RemoveAllChannels()
}

// scheduleRefreshLocked arms the refresh timer for the current credential
func (d *Directory) scheduleRefreshLocked() {
	if d.refreshTimer != nil {
		d.refreshTimer.Stop()
		d.refreshTimer = nil
	}
	if d.closed || d.refresh == nil || d.token == nil {
		return
	}
	delay, ok := credential.RefreshDelay(*d.token, d.opts.RefreshLeeway, time.Now())
	if !ok {
		return
	}
	current := *d.token
	d.refreshTimer = time.AfterFunc(delay, func() {
		d.runRefresh(current)
	})
	log.Debug("realtime: credential refresh scheduled", "in", delay.String())
}

// runRefresh obtains a new credential if expiring is still the current one
func (d *Directory) runRefresh(expiring string) {
	d.mu.RLock()
	fn := d.refresh
	stale := d.closed || d.token == nil || *d.token != expiring
	d.mu.RUnlock()
	if fn == nil || stale {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	token, err := fn(ctx)
	if err != nil {
		log.Warn("realtime: credential refresh failed", "error", err.Error())
		return
	}
	d.SetAuth(&token)
}

// Cache namespaces. A scoped channel sends different subscribe criteria than
// a plain one on the same topic, so the two never share a cache entry.
const (
	scopeNone         = ""
	scopeExecutionLog = "execution_log"
)

// channelKey hashes scope, topic and the effective config. Equal inputs
// always give equal keys.
func channelKey(scope, topic string, config ChannelConfig) uint64 {
	// ChannelConfig holds only plain fields, so Marshal cannot fail.
	cfg, _ := json.Marshal(config)
	h := xxhash.New()
	h.WriteString(scope)
	h.Write([]byte{0})
	h.WriteString(topic)
	h.Write([]byte{0})
	h.Write(cfg)
	return h.Sum64()
}

func equalTokens(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
