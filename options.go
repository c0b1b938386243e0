package latchan

import (
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/latchan/latchan/internal/metrics"
)

// createConfig collects the attributes recognized by Create.
type createConfig struct {
	truncate bool
	mode     os.FileMode
	log      *zap.SugaredLogger
	metrics  *metrics.Metrics
}

func defaultCreateConfig() createConfig {
	return createConfig{mode: 0o666, log: zap.NewNop().Sugar()}
}

// CreateOption configures Create and CreateAnon.
type CreateOption func(*createConfig)

// WithTruncate replaces an existing named channel file instead of
// failing with ErrExists.
func WithTruncate() CreateOption {
	return func(c *createConfig) { c.truncate = true }
}

// WithMode sets the backing file's permission bits (default 0666).
func WithMode(mode os.FileMode) CreateOption {
	return func(c *createConfig) { c.mode = mode }
}

// WithCreateLog attaches a logger to Create, which logs one debug line
// once the channel is initialized, and to the Handle CreateAnon returns.
func WithCreateLog(log *zap.SugaredLogger) CreateOption {
	return func(c *createConfig) {
		if log != nil {
			c.log = log
		}
	}
}

// openConfig collects the attributes recognized by Open.
type openConfig struct {
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
}

func defaultOpenConfig() openConfig {
	return openConfig{log: zap.NewNop().Sugar()}
}

// OpenOption configures Open.
type OpenOption func(*openConfig)

// WithOpenLog attaches a logger to the resulting Handle.
func WithOpenLog(log *zap.SugaredLogger) OpenOption {
	return func(c *openConfig) {
		if log != nil {
			c.log = log
		}
	}
}

// WithMetrics attaches a metrics sink to the Handle Open returns.
// Publish and Receive report their outcome counts through it, along with
// evictions and missed frames; WithCreateMetrics does the same for the
// Handle CreateAnon returns.
func WithMetrics(m *metrics.Metrics) OpenOption {
	return func(c *openConfig) { c.metrics = m }
}

// WithCreateMetrics attaches a metrics sink to the Handle CreateAnon
// returns.
func WithCreateMetrics(m *metrics.Metrics) CreateOption {
	return func(c *createConfig) { c.metrics = m }
}

// ReceiveFlag selects Receive's behavior, matching its flag
// table. Flags compose with bitwise OR.
type ReceiveFlag uint8

const (
	// Wait blocks until a newer frame is available, the deadline
	// expires, the handle is canceled, or the region is corrupted.
	Wait ReceiveFlag = 1 << iota
	// Last skips directly to the newest frame instead of the next
	// unread one.
	Last
	// Copy permits re-reading the current frame when the client has
	// already observed it.
	Copy
)

func (f ReceiveFlag) has(bit ReceiveFlag) bool { return f&bit != 0 }

// ReceiveOptions configures a single Receive call.
type ReceiveOptions struct {
	Flags ReceiveFlag
	// Deadline is an absolute point in time; the zero value means wait
	// forever when Wait is set, or not at all otherwise.
	Deadline time.Time
}

// CancelOptions configures Cancel.
type CancelOptions struct {
	// AsyncUnsafe, when true, performs the lock+broadcast directly on
	// the calling goroutine. Set this only when Cancel is not being
	// invoked from inside a Go signal handler registered with
	// signal.Notify on a channel read synchronously from the handler
	// itself; ordinary signal.Notify consumers run on a normal
	// goroutine and are always safe to call with AsyncUnsafe.
	//
	// When false (the default), Cancel spawns a short-lived goroutine
	// to perform the lock+broadcast, mirroring the source's
	// fork-a-helper-process indirection: the caller's own stack never
	// touches the mutex, which is what makes this safe to call from a
	// true async-signal context (the cancel flag itself is set inline
	// with a plain atomic store, which is signal-safe).
	AsyncUnsafe bool
}
