package pipeline

import (
	"sync"
	"time"
)

// defaultOverlapWindow bounds how long a running trigger blocks the next
// firing of the same kind. Past the window the previous run is considered
// stuck and loses its claim. The heavy triggers (ticket loading, cleanups)
// keep this default; the quick scans finish in seconds and release a stuck
// claim after scanOverlapWindow.
const (
	defaultOverlapWindow = 5 * time.Minute
	scanOverlapWindow    = time.Minute
)

// overlapGuard is the per-kind single-flight gate. A trigger that fires
// while the same kind is still running is skipped with a log line, never
// queued.
type overlapGuard struct {
	mu      sync.Mutex
	running map[TriggerKind]time.Time
	windows map[TriggerKind]time.Duration
}

func newOverlapGuard() *overlapGuard {
	return &overlapGuard{
		running: make(map[TriggerKind]time.Time),
		windows: map[TriggerKind]time.Duration{
			TriggerHealthCheck:        scanOverlapWindow,
			TriggerCheckWarnings:      scanOverlapWindow,
			TriggerCollectMetrics:     scanOverlapWindow,
			TriggerCheckSessionExpiry: scanOverlapWindow,
		},
	}
}

func (g *overlapGuard) window(kind TriggerKind) time.Duration {
	if w, ok := g.windows[kind]; ok {
		return w
	}
	return defaultOverlapWindow
}

// tryBegin claims the kind. It returns false when a previous run is still
// inside its overlap window.
func (g *overlapGuard) tryBegin(kind TriggerKind, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if started, ok := g.running[kind]; ok && now.Sub(started) <= g.window(kind) {
		return false
	}
	g.running[kind] = now
	return true
}

func (g *overlapGuard) end(kind TriggerKind) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, kind)
}
