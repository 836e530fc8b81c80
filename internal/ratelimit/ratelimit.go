package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/synapse-hq/synapse-sourcer/internal/utils"
)

// Channel names a rate-limited call path. Channels are independent:
// exhausting one never blocks another.
const (
	ChannelSearch = "search"
	ChannelOracle = "oracle"
)

const window = time.Minute

// Clock supplies the current time; injectable for tests.
type Clock func() time.Time

// Limiter is a per-channel sliding-window admission gate. Each channel keeps
// the timestamps of admissions granted within the last minute, guarded by a
// single mutex per channel.
type Limiter struct {
	clk Clock

	mu       sync.RWMutex
	channels map[string]*channelWindow
}

type channelWindow struct {
	mu     sync.Mutex
	max    int
	stamps []time.Time
}

// New creates a limiter with no configured channels. A nil clock defaults
// to time.Now.
func New(clk Clock) *Limiter {
	if clk == nil {
		clk = time.Now
	}
	return &Limiter{
		clk:      clk,
		channels: make(map[string]*channelWindow),
	}
}

// Configure sets the admissions-per-minute bound for a channel, replacing
// any previous configuration. A non-positive max disables the channel bound
// entirely (every admission is granted).
func (l *Limiter) Configure(channel string, maxPerMinute int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.channels[channel] = &channelWindow{max: maxPerMinute}
}

// Admit requests permission to proceed on the channel. A zero return means
// admission was granted and the timestamp recorded; a positive duration is
// the time to wait before asking again. Requests are never dropped.
func (l *Limiter) Admit(channel string) (time.Duration, error) {
	l.mu.RLock()
	cw, ok := l.channels[channel]
	l.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("rate limit channel %q is not configured", channel)
	}

	cw.mu.Lock()
	defer cw.mu.Unlock()

	now := l.clk()

	if cw.max <= 0 {
		return 0, nil
	}

	cw.prune(now)

	if len(cw.stamps) < cw.max {
		cw.stamps = append(cw.stamps, now)
		return 0, nil
	}

	return cw.stamps[0].Add(window).Sub(now), nil
}

// AdmitWait blocks until the channel admits the caller or the context is
// canceled.
func (l *Limiter) AdmitWait(ctx context.Context, channel string) error {
	for {
		wait, err := l.Admit(channel)
		if err != nil {
			return err
		}
		if wait <= 0 {
			return nil
		}
		if err := utils.WaitFor(ctx, wait); err != nil {
			return err
		}
	}
}

// prune drops timestamps that have slid out of the window. Caller holds the
// channel mutex.
func (cw *channelWindow) prune(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(cw.stamps) && !cw.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		cw.stamps = append(cw.stamps[:0], cw.stamps[i:]...)
	}
}
