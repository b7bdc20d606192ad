// Package scheduler drives outgoing pull requests. Each configured MPC is
// pulled on an exponentially growing interval: an empty channel widens the
// interval by a fixed factor up to a maximum, a channel that yielded a
// business message snaps back to the minimum.
//
// The scheduler keeps a single timer armed to the soonest pending trigger.
// Trigger times are rounded to whole seconds so channels configured alike
// fire together; due pulls run concurrently and are awaited before the
// timer is re-armed.
package scheduler

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"
)

const growthFactor = 1.75

// Puller sends one pull request on an MPC and reports whether the answer
// carried a business message. The msh orchestrator implements this with
// the pull pipeline.
type Puller interface {
	Pull(ctx context.Context, mpc string) (received bool, err error)
}

// ChannelConfig bounds the pull interval of one MPC.
type ChannelConfig struct {
	Mpc         string        `yaml:"mpc"`
	MinInterval time.Duration `yaml:"min_interval"`
	MaxInterval time.Duration `yaml:"max_interval"`
}

// channel is the runtime state of a scheduled MPC.
type channel struct {
	cfg     ChannelConfig
	runs    int
	nextRun time.Time
}

// interval computes the current pull interval from the empty-run streak.
func (c *channel) interval() time.Duration {
	d := time.Duration(float64(c.cfg.MinInterval) * math.Pow(growthFactor, float64(c.runs)))
	if d > c.cfg.MaxInterval {
		return c.cfg.MaxInterval
	}
	return d
}

// advance schedules the next firing and widens or resets the interval
// depending on whether the last pull yielded a message.
func (c *channel) advance(now time.Time, received bool) {
	if received {
		c.runs = 0
	} else {
		c.runs++
	}
	c.nextRun = now.Add(c.interval()).Round(time.Second)
}

// Scheduler fires pull requests for a set of MPCs.
type Scheduler struct {
	puller Puller
	logger *slog.Logger

	mu       sync.Mutex
	channels []*channel

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler for the given channels. Channels without a
// minimum interval default to five seconds, without a maximum to one
// minute.
func New(puller Puller, channels []ChannelConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{puller: puller, logger: logger}
	now := time.Now()
	for _, cfg := range channels {
		if cfg.MinInterval <= 0 {
			cfg.MinInterval = 5 * time.Second
		}
		if cfg.MaxInterval < cfg.MinInterval {
			cfg.MaxInterval = time.Minute
		}
		s.channels = append(s.channels, &channel{
			cfg:     cfg,
			nextRun: now.Add(cfg.MinInterval).Round(time.Second),
		})
	}
	return s
}

// Start begins pull scheduling. It is a no-op when no channels are
// configured.
func (s *Scheduler) Start(ctx context.Context) {
	if len(s.channels) == 0 {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run()
	s.logger.Info("pull scheduler started", "channels", len(s.channels))
}

// Stop gracefully stops the scheduler, waiting for in-flight pulls.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Info("pull scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	timer := time.NewTimer(s.untilNext())
	defer timer.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-timer.C:
			s.fireDue(s.ctx)
			timer.Reset(s.untilNext())
		}
	}
}

// untilNext returns the wait until the soonest pending trigger.
func (s *Scheduler) untilNext() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.channels[0].nextRun
	for _, c := range s.channels[1:] {
		if c.nextRun.Before(next) {
			next = c.nextRun
		}
	}
	d := time.Until(next)
	if d < 0 {
		return 0
	}
	return d
}

// fireDue pulls every channel whose trigger time has passed. All due
// channels are pulled concurrently and awaited before returning.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	var due []*channel
	for _, c := range s.channels {
		if !c.nextRun.After(now) {
			due = append(due, c)
		}
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range due {
		wg.Add(1)
		go func(c *channel) {
			defer wg.Done()
			s.pullChannel(ctx, c)
		}(c)
	}
	wg.Wait()
}

func (s *Scheduler) pullChannel(ctx context.Context, c *channel) {
	received, err := s.puller.Pull(ctx, c.cfg.Mpc)
	if err != nil {
		s.logger.Error("pull failed", "mpc", c.cfg.Mpc, "error", err)
	} else if received {
		s.logger.Debug("pull returned a message", "mpc", c.cfg.Mpc)
	}

	s.mu.Lock()
	c.advance(time.Now(), received)
	s.mu.Unlock()
}
