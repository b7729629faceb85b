package vmcore

// config.go defines the configuration object and the set of functional
// options accepted by New. All fields are initialised with sensible
// defaults in defaultConfig; options just capture pointers to external
// collaborators (registry, logger, collector) and never allocate more than
// that.
//
// © 2026 corevm authors. MIT License.

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/quillvm/corevm/internal/gcsync"
)

// Option configures a VM at construction time.
type Option func(*config)

type config struct {
	registry  *prometheus.Registry
	logger    *zap.Logger
	collector gcsync.NurseryCollector
}

func defaultConfig() *config {
	return &config{
		logger: zap.NewNop(),
	}
}

// WithMetrics enables Prometheus metric collection. Passing nil disables
// metrics (the default).
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *config) { c.registry = reg }
}

// WithLogger plugs an external zap.Logger. The VM never logs on a hot path;
// only slow events (callsite bucket growth, completed GC cycles) are
// emitted.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithNurseryCollector supplies the tracing/copying collector the GC
// orchestrator invokes once per rendezvoused cycle. Omitting it is valid for
// embedders exercising only the interning and hashing subsystems.
func WithNurseryCollector(nc gcsync.NurseryCollector) Option {
	return func(c *config) { c.collector = nc }
}
