// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics implements the Prometheus exporter (C12): it polls the
// backhaul manager and session registry through the same read-only
// accessor methods external callers use, never reaching into their
// internal maps directly, and republishes what it sees as Prometheus
// gauges and counters.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meshcore.dev/core/internal/backhaul"
	"meshcore.dev/core/internal/config"
	"meshcore.dev/core/internal/logging"
	"meshcore.dev/core/internal/mesh"
)

// BackhaulSource is the subset of *backhaul.Manager the exporter polls. It
// exists so tests can substitute a fake without driving a real management
// loop.
type BackhaulSource interface {
	GetAllInterfaceStates() []backhaul.InterfaceState
	CurrentBackhaul() (backhaul.Snapshot, bool)
	RouteSwapCount() uint64
}

// SessionSource is the subset of *mesh.SessionRegistry the exporter polls.
type SessionSource interface {
	Count() int
	InternetRequired() bool
}

var (
	_ BackhaulSource = (*backhaul.Manager)(nil)
	_ SessionSource  = (*mesh.SessionRegistry)(nil)
)

// Exporter is the Prometheus metrics server for the Backhaul Manager (C6)
// and Session Registry (C10).
type Exporter struct {
	backhaul BackhaulSource
	sessions SessionSource
	logger   *logging.Logger

	listenAddr     string
	updateInterval time.Duration

	interfaceScore  *prometheus.GaugeVec
	interfaceState  *prometheus.GaugeVec
	activeBackhaul  *prometheus.GaugeVec
	sessionsActive  prometheus.Gauge
	internetNeeded  prometheus.Gauge
	routeSwapsTotal prometheus.Gauge

	registry *prometheus.Registry
	server   *http.Server
}

// New builds an Exporter bound to its data sources. It registers its
// collectors against a private Prometheus registry so repeated test
// construction never collides with the global default registry.
func New(cfg *config.MetricsConfig, backhaulSrc BackhaulSource, sessionSrc SessionSource, logger *logging.Logger) *Exporter {
	if logger == nil {
		logger = logging.Nop()
	}

	e := &Exporter{
		backhaul:       backhaulSrc,
		sessions:       sessionSrc,
		logger:         logger,
		listenAddr:     cfg.ListenAddr,
		updateInterval: 5 * time.Second,
		registry:       prometheus.NewRegistry(),

		interfaceScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meshcore_interface_score",
			Help: "Composite health score of a discovered interface; larger is better.",
		}, []string{"interface"}),

		interfaceState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meshcore_interface_state",
			Help: "Whether an interface is currently in a given lifecycle state (1) or not (0).",
		}, []string{"interface", "state"}),

		activeBackhaul: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meshcore_active_backhaul_info",
			Help: "Identifies the currently active backhaul interface; value is always 1 for the active one.",
		}, []string{"interface"}),

		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshcore_sessions_active",
			Help: "Number of session leases currently held by the registry.",
		}),

		internetNeeded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshcore_internet_required",
			Help: "Whether any usable session currently requires internet egress (1) or not (0).",
		}),

		routeSwapsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshcore_route_swaps_total",
			Help: "Total number of times the Backhaul Manager has swapped the active policy route.",
		}),
	}

	e.registry.MustRegister(
		e.interfaceScore,
		e.interfaceState,
		e.activeBackhaul,
		e.sessionsActive,
		e.internetNeeded,
		e.routeSwapsTotal,
	)
	return e
}

// Start begins serving /metrics (and, if healthCheck is non-nil, /healthz
// on the same listener) and polling the data sources on updateInterval
// until ctx is canceled.
func (e *Exporter) Start(ctx context.Context, healthCheck func() error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	if healthCheck != nil {
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			if err := healthCheck(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte("ok\n"))
		})
	}

	e.server = &http.Server{
		Addr:    e.listenAddr,
		Handler: mux,
	}

	go func() {
		e.logger.Info("metrics server listening", "addr", e.listenAddr)
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.logger.Error("metrics server error", "error", err)
		}
	}()

	go e.pollLoop(ctx)
}

func (e *Exporter) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.updateInterval)
	defer ticker.Stop()

	e.refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.refresh()
		}
	}
}

func (e *Exporter) refresh() {
	e.interfaceScore.Reset()
	e.interfaceState.Reset()
	e.activeBackhaul.Reset()

	for _, st := range e.backhaul.GetAllInterfaceStates() {
		e.interfaceScore.WithLabelValues(st.Name).Set(float64(st.Score))
		e.interfaceState.WithLabelValues(st.Name, string(st.Lifecycle)).Set(1)
	}
	if active, ok := e.backhaul.CurrentBackhaul(); ok {
		e.activeBackhaul.WithLabelValues(active.Interface).Set(1)
	}
	e.routeSwapsTotal.Set(float64(e.backhaul.RouteSwapCount()))

	e.sessionsActive.Set(float64(e.sessions.Count()))
	if e.sessions.InternetRequired() {
		e.internetNeeded.Set(1)
	} else {
		e.internetNeeded.Set(0)
	}
}

// Stop shuts down the metrics HTTP server.
func (e *Exporter) Stop() error {
	if e.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.server.Shutdown(ctx)
}
