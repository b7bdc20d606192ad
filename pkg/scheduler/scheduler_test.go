package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePuller struct {
	mu       sync.Mutex
	pulls    []string
	received bool
}

func (p *fakePuller) Pull(ctx context.Context, mpc string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pulls = append(p.pulls, mpc)
	return p.received, nil
}

func (p *fakePuller) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pulls)
}

func TestIntervalGrowsExponentially(t *testing.T) {
	c := &channel{cfg: ChannelConfig{
		Mpc:         "urn:test:mpc",
		MinInterval: 4 * time.Second,
		MaxInterval: 60 * time.Second,
	}}

	assert.Equal(t, 4*time.Second, c.interval())

	c.advance(time.Now(), false)
	assert.Equal(t, 7*time.Second, c.interval())

	c.advance(time.Now(), false)
	assert.Equal(t, 12*time.Second+250*time.Millisecond, c.interval())
}

func TestIntervalCapsAtMax(t *testing.T) {
	c := &channel{cfg: ChannelConfig{
		Mpc:         "urn:test:mpc",
		MinInterval: 10 * time.Second,
		MaxInterval: 30 * time.Second,
	}}

	for i := 0; i < 10; i++ {
		c.advance(time.Now(), false)
	}
	assert.Equal(t, 30*time.Second, c.interval())
}

func TestIntervalResetsOnReceivedMessage(t *testing.T) {
	c := &channel{cfg: ChannelConfig{
		Mpc:         "urn:test:mpc",
		MinInterval: 5 * time.Second,
		MaxInterval: 60 * time.Second,
	}}

	c.advance(time.Now(), false)
	c.advance(time.Now(), false)
	require.Greater(t, c.interval(), 5*time.Second)

	c.advance(time.Now(), true)
	assert.Equal(t, 5*time.Second, c.interval())
}

func TestAdvanceRoundsTriggerToSeconds(t *testing.T) {
	c := &channel{cfg: ChannelConfig{
		Mpc:         "urn:test:mpc",
		MinInterval: 5 * time.Second,
		MaxInterval: 60 * time.Second,
	}}

	c.advance(time.Now(), false)
	assert.Zero(t, c.nextRun.Nanosecond())
}

func TestFireDuePullsDueChannelsOnly(t *testing.T) {
	puller := &fakePuller{}
	s := New(puller, []ChannelConfig{
		{Mpc: "urn:test:mpc:a", MinInterval: time.Second, MaxInterval: time.Minute},
		{Mpc: "urn:test:mpc:b", MinInterval: time.Second, MaxInterval: time.Minute},
	}, nil)

	now := time.Now()
	s.channels[0].nextRun = now.Add(-time.Second)
	s.channels[1].nextRun = now.Add(time.Hour)

	s.fireDue(context.Background())

	require.Equal(t, 1, puller.count())
	assert.Equal(t, "urn:test:mpc:a", puller.pulls[0])
	assert.True(t, s.channels[0].nextRun.After(now), "fired channel must be rescheduled")
}

func TestFireDueRunsConcurrentPullsToCompletion(t *testing.T) {
	puller := &fakePuller{}
	s := New(puller, []ChannelConfig{
		{Mpc: "urn:test:mpc:a", MinInterval: time.Second, MaxInterval: time.Minute},
		{Mpc: "urn:test:mpc:b", MinInterval: time.Second, MaxInterval: time.Minute},
		{Mpc: "urn:test:mpc:c", MinInterval: time.Second, MaxInterval: time.Minute},
	}, nil)

	past := time.Now().Add(-time.Second)
	for _, c := range s.channels {
		c.nextRun = past
	}

	s.fireDue(context.Background())
	assert.Equal(t, 3, puller.count())
}

func TestStartStopLifecycle(t *testing.T) {
	puller := &fakePuller{}
	s := New(puller, []ChannelConfig{
		{Mpc: "urn:test:mpc", MinInterval: time.Second, MaxInterval: time.Minute},
	}, nil)

	s.Start(context.Background())
	s.Stop()

	// A scheduler without channels never starts a worker.
	empty := New(puller, nil, nil)
	empty.Start(context.Background())
	empty.Stop()
}

func TestNewDefaultsIntervals(t *testing.T) {
	s := New(&fakePuller{}, []ChannelConfig{{Mpc: "urn:test:mpc"}}, nil)
	require.Len(t, s.channels, 1)
	assert.Equal(t, 5*time.Second, s.channels[0].cfg.MinInterval)
	assert.Equal(t, time.Minute, s.channels[0].cfg.MaxInterval)
}
