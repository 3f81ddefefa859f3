package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bobmcallan/covault/internal/common"
)

// DefaultPollInterval is how often the device re-checks its grant.
const DefaultPollInterval = 10 * time.Second

// Poller watches a device grant in the background. Each tick re-reads the
// grant from the server, adopts the refreshed device token, and reports
// state changes. A 404 means the grant was rejected or revoked; the poller
// clears the session and stops.
type Poller struct {
	api      *API
	interval time.Duration
	logger   *common.Logger

	// OnChange is called with the new grant state ("pending", "approved")
	// or "revoked" when the grant disappears. Optional.
	OnChange func(state string)

	mu        sync.Mutex
	lastState string
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewPoller creates a poller for the given API client. interval <= 0 uses
// DefaultPollInterval.
func NewPoller(api *API, interval time.Duration, logger *common.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = common.NewDefaultLogger()
	}
	return &Poller{
		api:      api,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the poll loop. Call Stop to terminate it.
func (p *Poller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.safeRun(ctx)
}

// Stop terminates the poll loop and waits for it to exit. Safe to call more
// than once.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		cancel := p.cancel
		p.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		p.wg.Wait()
	})
}

// LastState returns the most recently observed grant state.
func (p *Poller) LastState() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastState
}

func (p *Poller) safeRun(ctx context.Context) {
	defer p.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error().Str("panic", fmt.Sprintf("%v", rec)).Msg("Panic in grant poller")
		}
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Poll immediately so the caller does not wait a full interval for the
	// first state.
	if done := p.poll(ctx); done {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done := p.poll(ctx); done {
				return
			}
		}
	}
}

// poll performs one status check. Returns true when polling should stop.
func (p *Poller) poll(ctx context.Context) bool {
	status, err := p.api.Status(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		if IsNotFound(err) {
			p.logger.Info().Msg("Access grant no longer exists")
			p.setState("revoked")
			return true
		}
		p.logger.Warn().Err(err).Msg("Grant status poll failed")
		return false
	}

	if status.DeviceToken != "" {
		p.api.SetToken(status.DeviceToken)
	}
	p.setState(status.State)
	return false
}

func (p *Poller) setState(state string) {
	p.mu.Lock()
	changed := state != p.lastState
	p.lastState = state
	p.mu.Unlock()

	if changed && p.OnChange != nil {
		p.OnChange(state)
	}
}
