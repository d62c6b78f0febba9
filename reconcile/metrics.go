// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"time"
)

const (
	MetricsOpCheck   = "check"
	MetricsOpMigrate = "migrate"

	MetricsStageEnumerateSource = "enumerate_source"
	MetricsStageEnumerateTarget = "enumerate_target"
	MetricsStageDiff            = "diff"
	MetricsStageChildren        = "children"
	MetricsStageBatch           = "batch"
	MetricsStageRecord          = "record"
)

type StageTiming struct {
	Operation  string
	Stage      string
	EntityType EntityType
	Duration   time.Duration
	Count      int
	Error      bool
}

type StageMetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

type StageMetricsRecorderFunc func(ctx context.Context, timing StageTiming)

func (f StageMetricsRecorderFunc) ObserveStage(ctx context.Context, timing StageTiming) {
	f(ctx, timing)
}

func observeStage(ctx context.Context, rec StageMetricsRecorder, op, stage string, t EntityType, start time.Time, count int, hadError bool) {
	if rec == nil || start.IsZero() {
		return
	}
	rec.ObserveStage(ctx, StageTiming{
		Operation:  op,
		Stage:      stage,
		EntityType: t,
		Duration:   time.Since(start),
		Count:      count,
		Error:      hadError,
	})
}
