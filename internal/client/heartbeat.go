package client

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bobmcallan/covault/internal/common"
)

// DefaultHeartbeatInterval is how often the owner re-reads their grant list.
const DefaultHeartbeatInterval = 30 * time.Second

// Heartbeat watches the owner's device grants in the background. Each tick
// re-reads the grant list with the owner's primary session and reports when
// the set of grants or their states change, so a new access request surfaces
// without the owner refreshing anything. It is the owner-side counterpart of
// the requester's Poller.
type Heartbeat struct {
	api      *API
	interval time.Duration
	logger   *common.Logger

	// OnChange is called with the current grant list whenever it differs
	// from the previous tick. Optional.
	OnChange func(grants []GrantSummary)

	mu       sync.Mutex
	lastSeen string
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHeartbeat creates a heartbeat for the given API client. interval <= 0
// uses DefaultHeartbeatInterval.
func NewHeartbeat(api *API, interval time.Duration, logger *common.Logger) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = common.NewDefaultLogger()
	}
	return &Heartbeat{
		api:      api,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the heartbeat loop. Call Stop to terminate it.
func (h *Heartbeat) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()

	h.wg.Add(1)
	go h.safeRun(ctx)
}

// Stop terminates the heartbeat loop and waits for it to exit. Safe to call
// more than once.
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		cancel := h.cancel
		h.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		h.wg.Wait()
	})
}

func (h *Heartbeat) safeRun(ctx context.Context) {
	defer h.wg.Done()
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error().Str("panic", fmt.Sprintf("%v", rec)).Msg("Panic in grant heartbeat")
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	// Check immediately so pending requests surface on startup.
	h.beat(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

// beat performs one grant list check.
func (h *Heartbeat) beat(ctx context.Context) {
	grants, err := h.api.Grants(ctx, "")
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		h.logger.Warn().Err(err).Msg("Grant heartbeat failed")
		return
	}

	seen := fingerprint(grants)
	h.mu.Lock()
	changed := seen != h.lastSeen
	h.lastSeen = seen
	h.mu.Unlock()

	if changed && h.OnChange != nil {
		h.OnChange(grants)
	}
}

// fingerprint reduces a grant list to a comparable string of IDs and states.
func fingerprint(grants []GrantSummary) string {
	parts := make([]string, 0, len(grants))
	for _, g := range grants {
		parts = append(parts, g.GrantID+":"+g.State)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
