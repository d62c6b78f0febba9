// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/guildtools/guildsync/reconcile"
)

// PrometheusRecorder exports reconciliation stage timings as Prometheus
// histograms, labeled by operation, stage, entity type and error outcome.
type PrometheusRecorder struct {
	stageDuration *prometheus.HistogramVec
	stageRecords  *prometheus.CounterVec
}

// NewPrometheusRecorder registers the reconciliation metrics on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "guildsync",
			Name:      "stage_duration_seconds",
			Help:      "Duration of reconciliation stages.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"operation", "stage", "entity_type", "error"}),
		stageRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "guildsync",
			Name:      "stage_records_total",
			Help:      "Records processed per reconciliation stage.",
		}, []string{"operation", "stage", "entity_type"}),
	}
	reg.MustRegister(r.stageDuration, r.stageRecords)
	return r
}

func (r *PrometheusRecorder) ObserveStage(_ context.Context, t reconcile.StageTiming) {
	entity := string(t.EntityType)
	r.stageDuration.WithLabelValues(t.Operation, t.Stage, entity, strconv.FormatBool(t.Error)).
		Observe(t.Duration.Seconds())
	r.stageRecords.WithLabelValues(t.Operation, t.Stage, entity).Add(float64(t.Count))
}
