package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"coharvest/core/events"
)

// BidPoolMetrics tracks engine activity. It consumes engine events, so it can
// be attached as an emitter.
type BidPoolMetrics struct {
	bidsSubmitted   *prometheus.CounterVec
	roundsCreated   *prometheus.CounterVec
	roundsFinalized prometheus.Counter
	boundarySlot    prometheus.Gauge
	bidsSettled     prometheus.Counter
	roundsSettled   prometheus.Counter
	instructions    *prometheus.CounterVec
	configVersion   prometheus.Gauge
	fillRatio       prometheus.Histogram
}

var (
	bidPoolOnce     sync.Once
	bidPoolRegistry *BidPoolMetrics
)

// BidPool returns the process-wide metrics registered on the default
// registerer.
func BidPool() *BidPoolMetrics {
	bidPoolOnce.Do(func() {
		bidPoolRegistry = NewBidPoolMetrics(prometheus.DefaultRegisterer)
	})
	return bidPoolRegistry
}

// NewBidPoolMetrics builds and registers a metrics set on reg.
func NewBidPoolMetrics(reg prometheus.Registerer) *BidPoolMetrics {
	m := &BidPoolMetrics{
		bidsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bidpool_bids_submitted_total",
			Help: "Count of accepted deposits by premium slot.",
		}, []string{"slot"}),
		roundsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bidpool_rounds_created_total",
			Help: "Count of rounds created by origin.",
		}, []string{"origin"}),
		roundsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bidpool_rounds_finalized_total",
			Help: "Count of rounds released with an exchange rate.",
		}),
		boundarySlot: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bidpool_last_boundary_slot",
			Help: "Partially funded slot of the most recently finalized round (0 when none).",
		}),
		bidsSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bidpool_bids_settled_total",
			Help: "Count of deposits settled.",
		}),
		roundsSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bidpool_rounds_settled_total",
			Help: "Count of settlement pages that completed a round.",
		}),
		instructions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bidpool_instructions_total",
			Help: "Count of value movement instructions emitted by reason.",
		}, []string{"reason"}),
		configVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bidpool_config_version",
			Help: "Version of the active configuration snapshot.",
		}),
		fillRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bidpool_slot_fill_ratio",
			Help:    "Fill ratio of every funded slot at finalization.",
			Buckets: []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 0.99, 1},
		}),
	}
	reg.MustRegister(
		m.bidsSubmitted,
		m.roundsCreated,
		m.roundsFinalized,
		m.boundarySlot,
		m.bidsSettled,
		m.roundsSettled,
		m.instructions,
		m.configVersion,
		m.fillRatio,
	)
	return m
}

// Emit implements events.Emitter.
func (m *BidPoolMetrics) Emit(evt events.Event) {
	if m == nil {
		return
	}
	switch e := evt.(type) {
	case events.BidPoolBidSubmitted:
		m.bidsSubmitted.WithLabelValues(strconv.Itoa(int(e.Slot))).Inc()
	case events.BidPoolRoundCreated:
		origin := "operator"
		if e.FromTreasury {
			origin = "treasury"
		}
		m.roundsCreated.WithLabelValues(origin).Inc()
	case events.BidPoolRoundFinalized:
		m.roundsFinalized.Inc()
		m.boundarySlot.Set(float64(e.BoundarySlot))
	case events.BidPoolBidsDistributed:
		m.bidsSettled.Add(float64(e.Settled))
		if e.FullySettled {
			m.roundsSettled.Inc()
		}
	case events.BidPoolConfigUpdated:
		m.configVersion.Set(float64(e.Version))
	}
}

// ObserveInstruction counts one emitted instruction.
func (m *BidPoolMetrics) ObserveInstruction(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.instructions.WithLabelValues(reason).Inc()
}

// ObserveFill records the frozen fill ratio of one slot.
func (m *BidPoolMetrics) ObserveFill(ratio float64) {
	if m == nil {
		return
	}
	m.fillRatio.Observe(ratio)
}
