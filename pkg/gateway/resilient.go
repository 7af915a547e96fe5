package gateway

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/feichai0017/migration-orchestrator/internal/models"
	"github.com/feichai0017/migration-orchestrator/pkg/errors"
	"github.com/feichai0017/migration-orchestrator/pkg/logger"
	"github.com/feichai0017/migration-orchestrator/pkg/metrics"
)

// ResilientConfig tunes the call policy wrapped around a gateway.
type ResilientConfig struct {
	RateLimit       float64       `mapstructure:"rateLimit"` // calls per second, 0 = unlimited
	Burst           int           `mapstructure:"burst"`
	CallTimeout     time.Duration `mapstructure:"callTimeout"`
	MaxRetries      int           `mapstructure:"maxRetries"`
	InitialInterval time.Duration `mapstructure:"initialInterval"`
}

// DefaultResilientConfig returns the stock call policy.
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		RateLimit:       50,
		Burst:           10,
		CallTimeout:     30 * time.Second,
		MaxRetries:      3,
		InitialInterval: 200 * time.Millisecond,
	}
}

// Resilient decorates a gateway with rate limiting, a per-call timeout and
// exponential retries on ErrUnreachable and ErrTimeout. Per-record rejections
// are returned immediately.
type Resilient struct {
	next    Gateway
	cfg     ResilientConfig
	limiter *rate.Limiter
	logger  logger.Logger
}

// NewResilient wraps next.
func NewResilient(next Gateway, cfg ResilientConfig, log logger.Logger) *Resilient {
	if log == nil {
		log = logger.NewNop()
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Resilient{
		next:    next,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		logger:  log.Named("gateway"),
	}
}

func (r *Resilient) Mode() Mode { return r.next.Mode() }

func (r *Resilient) ReadTable(ctx context.Context, table string, opts ReadOptions) ([]models.Record, error) {
	var rows []models.Record
	err := r.do(ctx, "read", func(ctx context.Context) error {
		var err error
		rows, err = r.next.ReadTable(ctx, table, opts)
		return err
	})
	return rows, err
}

func (r *Resilient) WriteObject(ctx context.Context, objectType string, rec models.Record) error {
	return r.do(ctx, "write", func(ctx context.Context) error {
		return r.next.WriteObject(ctx, objectType, rec)
	})
}

func (r *Resilient) do(ctx context.Context, op string, call func(context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	if r.cfg.InitialInterval > 0 {
		policy.InitialInterval = r.cfg.InitialInterval
	}
	policy.MaxElapsedTime = 0
	var b backoff.BackOff = policy
	if r.cfg.MaxRetries >= 0 {
		b = backoff.WithMaxRetries(b, uint64(r.cfg.MaxRetries))
	}

	operation := func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.cfg.CallTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
		}
		defer cancel()

		err := call(callCtx)
		if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = errors.Wrapf(ErrTimeout, "%s after %s", op, r.cfg.CallTimeout)
		}
		if err != nil && !IsFatal(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		metrics.GatewayRetry(op)
		r.logger.Warn("Retrying gateway call",
			logger.String("operation", op),
			logger.Duration("wait", wait),
			logger.Error(err),
		)
	}
	return backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
}
