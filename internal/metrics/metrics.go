package metrics

import (
	"context"
	"net/http"

	"codeberg.org/mutker/solarledger/internal/errors"
	"codeberg.org/mutker/solarledger/internal/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type service struct {
	cfg      Config
	registry *prometheus.Registry

	operations  *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	powerRating prometheus.Gauge
	integrity   *prometheus.CounterVec
}

// No-op implementation
type noopCollector struct{}

func NewService(cfg Config) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	// If metrics is disabled, return a no-op collector
	if !cfg.Enabled {
		logger.Debug().Msg("Metrics collection disabled, using no-op collector")
		return &noopCollector{}, nil
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = defaultNamespace
	}

	s := &service{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Register and verify calls by outcome.",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Wall time of register and verify calls including external I/O.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"operation"}),
		powerRating: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_power_rating",
			Help:      "Power rating of the most recently registered reading.",
		}),
		integrity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_checks_total",
			Help:      "Verification checks by kind and result.",
		}, []string{"check", "result"}),
	}

	for _, c := range []prometheus.Collector{s.operations, s.latency, s.powerRating, s.integrity} {
		if err := s.registry.Register(c); err != nil {
			return nil, errFactory.Wrap(ErrRegisterFailed, err)
		}
	}

	logger.Debug().
		Str("listen", cfg.Listen).
		Bool("enabled", cfg.Enabled).
		Msg("Metrics service initialized successfully")

	return s, nil
}

func (s *service) Record(ctx context.Context, event *Event) error {
	errFactory := errors.New()

	if event == nil || event.Operation == "" {
		return errFactory.New(ErrInvalidEvent)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
	}

	outcome := event.Outcome
	if outcome == "" {
		outcome = OutcomeOK
	}

	s.operations.WithLabelValues(string(event.Operation), outcome).Inc()
	s.latency.WithLabelValues(string(event.Operation)).Observe(event.Duration.Seconds())

	if event.Operation == OpRegister && outcome == OutcomeOK {
		s.powerRating.Set(event.PowerRating)
	}

	if event.Integrity.Checked {
		s.integrity.WithLabelValues("integrity", result(event.Integrity.Matched, "match", "mismatch")).Inc()
		if event.Integrity.External {
			s.integrity.WithLabelValues("drift", result(event.Integrity.Drifted, "drifted", "unchanged")).Inc()
		}
	}

	return nil
}

func (s *service) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (*service) Close() error {
	return nil
}

func result(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}

// No-op implementation
func (*noopCollector) Record(_ context.Context, _ *Event) error {
	return nil
}

func (*noopCollector) Handler() http.Handler {
	return http.NotFoundHandler()
}

func (*noopCollector) Close() error {
	return nil
}
