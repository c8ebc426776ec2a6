package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters exposed on /metrics.
var (
	ConfigsExtracted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flexbatt_configs_extracted_total",
		Help: "Battery configurations processed by the feature extraction pipeline.",
	})

	BatchesFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flexbatt_feature_batches_flushed_total",
		Help: "Feature batches flushed to the feature store.",
	})

	ExtractionErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flexbatt_extraction_errors_total",
		Help: "Configurations that failed during feature extraction.",
	})

	BenefitRowsComputed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flexbatt_benefit_rows_computed_total",
		Help: "Benefit rows computed across all recalculations.",
	})

	PipelineState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "flexbatt_pipeline_state",
		Help: "Current extraction pipeline state (1 for the active state).",
	}, []string{"state"})
)
