package pki

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Option configures the KeyPairService, Builder and Signer.
type Option func(*options)

type options struct {
	logger         zerolog.Logger
	now            func() time.Time
	strictKeyUsage bool
}

func newOptions(opts []Option) options {
	o := options{
		logger: log.Logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger used for warnings and debug output.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock replaces time.Now, used to default notBefore.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithStrictKeyUsage turns key usage and basic constraints inconsistencies into
// ErrInconsistentKeyUsage instead of warnings.
func WithStrictKeyUsage() Option {
	return func(o *options) {
		o.strictKeyUsage = true
	}
}
