package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"
	"go.uber.org/zap"
)

const namespace = "spy_relay"

// Metrics holds the relayer's prometheus collectors on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	successes          *prometheus.CounterVec
	confirmedSuccesses *prometheus.CounterVec
	failures           *prometheus.CounterVec
	rollbacks          *prometheus.CounterVec
	alreadyExecuted    *prometheus.CounterVec
	incomingVAAs       *prometheus.CounterVec
	queueDepth         *prometheus.GaugeVec
}

func New() *Metrics {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}

	m := &Metrics{
		registry:           prometheus.NewRegistry(),
		successes:          counter("successes", "Number of successful relays", "chain"),
		confirmedSuccesses: counter("confirmed_successes", "Number of relays confirmed by the auditor", "chain"),
		failures:           counter("failures", "Number of failed relay attempts", "chain"),
		rollbacks:          counter("rollback", "Number of completed relays found rolled back", "chain"),
		alreadyExecuted:    counter("already_executed", "Number of duplicate VAAs dropped at claim time", "chain"),
		incomingVAAs:       counter("incoming_vaas", "Number of VAAs accepted by the listener", "source_chain"),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of queued VAAs",
		}, []string{"table", "source_chain", "target_chain"}),
	}
	m.registry.MustRegister(
		m.successes, m.confirmedSuccesses, m.failures, m.rollbacks,
		m.alreadyExecuted, m.incomingVAAs, m.queueDepth,
		collectors.NewGoCollector(),
	)
	return m
}

func chainLabel(id vaaLib.ChainID) string {
	return strconv.Itoa(int(id))
}

func (m *Metrics) IncSuccess(chain vaaLib.ChainID) {
	m.successes.WithLabelValues(chainLabel(chain)).Inc()
}

func (m *Metrics) IncConfirmed(chain vaaLib.ChainID) {
	m.confirmedSuccesses.WithLabelValues(chainLabel(chain)).Inc()
}

func (m *Metrics) IncFailure(chain vaaLib.ChainID) {
	m.failures.WithLabelValues(chainLabel(chain)).Inc()
}

func (m *Metrics) IncRollback(chain vaaLib.ChainID) {
	m.rollbacks.WithLabelValues(chainLabel(chain)).Inc()
}

func (m *Metrics) IncAlreadyExecuted(chain vaaLib.ChainID) {
	m.alreadyExecuted.WithLabelValues(chainLabel(chain)).Inc()
}

func (m *Metrics) IncIncoming(source vaaLib.ChainID) {
	m.incomingVAAs.WithLabelValues(chainLabel(source)).Inc()
}

// SetQueueDepth replaces the queue depth series with the given samples.
func (m *Metrics) SetQueueDepth(samples []QueueDepth) {
	m.queueDepth.Reset()
	for _, s := range samples {
		m.queueDepth.WithLabelValues(s.Table, chainLabel(s.SourceChain), chainLabel(s.TargetChain)).Set(float64(s.Count))
	}
}

// QueueDepth is one queue depth sample.
type QueueDepth struct {
	Table       string
	SourceChain vaaLib.ChainID
	TargetChain vaaLib.ChainID
	Count       int
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Serve exposes /metrics on port until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, port int, logger *zap.Logger) error {
	logger = logger.With(zap.String("component", "Metrics"))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})))

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", zap.Int("port", port))
	if err := e.Start(fmt.Sprintf(":%d", port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}
