package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/mixtape-indexer/internal/progress"
)

// PrometheusSink exports indexing progress as Prometheus collectors.
type PrometheusSink struct {
	runsCompleted   prometheus.Counter
	runDuration     prometheus.Histogram
	chainRuns       *prometheus.CounterVec
	contracts       *prometheus.CounterVec
	tokens          *prometheus.CounterVec
	tokenAttempts   *prometheus.HistogramVec
	directoryAdded  *prometheus.CounterVec
	publishes       *prometheus.CounterVec
	imagesMirrored  *prometheus.CounterVec
	lastRunFinished prometheus.Gauge
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "indexer_runs_completed_total",
			Help: "Scheduler cycles completed.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "indexer_run_duration_seconds",
			Help:    "Wall time per scheduler cycle.",
			Buckets: []float64{10, 30, 60, 300, 900, 1800, 3600, 7200},
		}),
		chainRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_chain_runs_total",
			Help: "Per-chain turns partitioned by result.",
		}, []string{"chain", "result"}),
		contracts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_contracts_total",
			Help: "Contracts processed partitioned by result.",
		}, []string{"chain", "result"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_tokens_total",
			Help: "Tokens processed partitioned by result.",
		}, []string{"chain", "result"}),
		tokenAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "indexer_token_attempts",
			Help:    "Fetch attempts consumed per token.",
			Buckets: []float64{1, 2, 3, 5, 10, 15},
		}, []string{"chain"}),
		directoryAdded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_directory_entries_added_total",
			Help: "Entries appended to directory files.",
		}, []string{"chain"}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_publishes_total",
			Help: "Publish steps partitioned by result.",
		}, []string{"chain", "result"}),
		imagesMirrored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_images_mirrored_total",
			Help: "Token images mirrored partitioned by result.",
		}, []string{"chain", "result"}),
		lastRunFinished: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "indexer_last_run_finished_timestamp_seconds",
			Help: "Unix time the last scheduler cycle finished.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.runsCompleted, s.runDuration, s.chainRuns, s.contracts, s.tokens,
		s.tokenAttempts, s.directoryAdded, s.publishes, s.imagesMirrored, s.lastRunFinished,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunDone:
		s.runsCompleted.Inc()
		if evt.Dur > 0 {
			s.runDuration.Observe(evt.Dur.Seconds())
		}
		s.lastRunFinished.Set(float64(evt.TS.Unix()))
	case progress.StageChainDone:
		s.chainRuns.WithLabelValues(evt.Chain, "success").Inc()
	case progress.StageChainError:
		s.chainRuns.WithLabelValues(evt.Chain, "error").Inc()
	case progress.StageContractDone:
		s.contracts.WithLabelValues(evt.Chain, "indexed").Inc()
	case progress.StageContractSkipped:
		s.contracts.WithLabelValues(evt.Chain, "skipped").Inc()
	case progress.StageTokenDone:
		s.tokens.WithLabelValues(evt.Chain, "stored").Inc()
		s.observeAttempts(evt)
	case progress.StageTokenAbandoned:
		s.tokens.WithLabelValues(evt.Chain, "abandoned").Inc()
		s.observeAttempts(evt)
	case progress.StageTokenAbsent:
		s.tokens.WithLabelValues(evt.Chain, "absent").Inc()
	case progress.StageDirectoryDone:
		s.directoryAdded.WithLabelValues(evt.Chain).Add(float64(evt.Count))
	case progress.StagePublishDone:
		s.publishes.WithLabelValues(evt.Chain, "success").Inc()
	case progress.StagePublishError:
		s.publishes.WithLabelValues(evt.Chain, "error").Inc()
	case progress.StageImageMirrored:
		s.imagesMirrored.WithLabelValues(evt.Chain, "success").Inc()
	case progress.StageImageMirrorError:
		s.imagesMirrored.WithLabelValues(evt.Chain, "error").Inc()
	}
}

func (s *PrometheusSink) observeAttempts(evt progress.Event) {
	if evt.Attempts > 0 {
		s.tokenAttempts.WithLabelValues(evt.Chain).Observe(float64(evt.Attempts))
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
