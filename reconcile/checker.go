// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// ChildChecker is the type-erased view of a Checker for a child entity type,
// invoked with the parent's canonical id as scope.
type ChildChecker interface {
	EntityType() EntityType
	Check(ctx context.Context, scope CanonicalID) (*SyncReport, error)
}

// CheckerConfig bounds the resource usage of a checker.
type CheckerConfig struct {
	ChildConcurrency int                  // max concurrent child-scope checks (default 4)
	OpTimeout        time.Duration        // per store enumeration timeout (0 = none)
	Metrics          StageMetricsRecorder // optional stage timings
}

const defaultChildConcurrency = 4

// Checker computes the SyncReport for one entity type: it enumerates both
// stores, resolves canonical identities, diffs the id sets, and attaches
// child reports scoped per parent id for owning entity types. A checker never
// mutates either store.
type Checker[T any] struct {
	desc     Descriptor[T]
	source   Source[T]
	target   Target[T]
	children []ChildChecker
	config   *CheckerConfig
	logger   *slog.Logger
}

// NewChecker creates a checker for one entity type over a source/target store
// pair. Child checkers are attached with AddChild.
func NewChecker[T any](desc Descriptor[T], source Source[T], target Target[T], config *CheckerConfig, logger *slog.Logger) *Checker[T] {
	if config == nil {
		config = &CheckerConfig{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker[T]{
		desc:   desc,
		source: source,
		target: target,
		config: config,
		logger: logger,
	}
}

// AddChild registers a checker for an entity type owned by this one. Child
// checks run scoped to each parent id found in the source enumeration.
func (c *Checker[T]) AddChild(child ChildChecker) {
	c.children = append(c.children, child)
}

func (c *Checker[T]) EntityType() EntityType { return c.desc.Type }

// ParentType returns the owning entity type, or "" for root entity types.
func (c *Checker[T]) ParentType() EntityType { return c.desc.Parent }

// Check enumerates both stores (within scope when non-empty), builds the two
// canonical id sets, and computes missing = source \ target and
// extra = target \ source. Records whose identity cannot be resolved are
// excluded from both sets and surfaced in the unresolvable buckets so they do
// not silently inflate one side of the diff.
//
// Enumeration failure of either store is reported as ErrStoreUnavailable; the
// caller decides whether to degrade (CheckAll) or fail the request.
func (c *Checker[T]) Check(ctx context.Context, scope CanonicalID) (*SyncReport, error) {
	start := time.Now()
	srcRecs, err := c.enumerate(ctx, c.source.Enumerate, scope)
	observeStage(ctx, c.config.Metrics, MetricsOpCheck, MetricsStageEnumerateSource, c.desc.Type, start, len(srcRecs), err != nil)
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate %s in source: %v", ErrStoreUnavailable, c.desc.Type, err)
	}

	start = time.Now()
	tgtRecs, err := c.enumerate(ctx, c.target.Enumerate, scope)
	observeStage(ctx, c.config.Metrics, MetricsOpCheck, MetricsStageEnumerateTarget, c.desc.Type, start, len(tgtRecs), err != nil)
	if err != nil {
		return nil, fmt.Errorf("%w: enumerate %s in target: %v", ErrStoreUnavailable, c.desc.Type, err)
	}

	start = time.Now()
	report := &SyncReport{
		EntityType:      c.desc.Type,
		Scope:           scope,
		CountInSource:   len(srcRecs),
		CountInTarget:   len(tgtRecs),
		MissingInTarget: []CanonicalID{},
		ExtraInTarget:   []CanonicalID{},
	}

	sourceByID := c.resolve(srcRecs, &report.UnresolvableInSource)
	targetByID := c.resolve(tgtRecs, &report.UnresolvableInTarget)

	for id, srcRec := range sourceByID {
		tgtRec, ok := targetByID[id]
		switch {
		case !ok:
			report.MissingInTarget = append(report.MissingInTarget, id)
		case c.desc.Equal != nil && !c.desc.Equal(srcRec, tgtRec):
			report.DivergentInTarget = append(report.DivergentInTarget, id)
		}
	}
	for id := range targetByID {
		if _, ok := sourceByID[id]; !ok {
			report.ExtraInTarget = append(report.ExtraInTarget, id)
		}
	}
	sortIDs(report.MissingInTarget)
	sortIDs(report.ExtraInTarget)
	sortIDs(report.DivergentInTarget)
	observeStage(ctx, c.config.Metrics, MetricsOpCheck, MetricsStageDiff, c.desc.Type, start, len(sourceByID), false)

	if len(c.children) > 0 {
		start = time.Now()
		report.Children = c.checkChildren(ctx, sourceByID)
		observeStage(ctx, c.config.Metrics, MetricsOpCheck, MetricsStageChildren, c.desc.Type, start, len(report.Children), false)
	}

	c.logger.Debug("Check completed",
		"entity_type", c.desc.Type,
		"scope", scope,
		"count_in_source", report.CountInSource,
		"count_in_target", report.CountInTarget,
		"missing", len(report.MissingInTarget),
		"extra", len(report.ExtraInTarget),
		"divergent", len(report.DivergentInTarget),
		"unresolvable", len(report.UnresolvableInSource)+len(report.UnresolvableInTarget),
	)
	return report, nil
}

func (c *Checker[T]) enumerate(ctx context.Context, fn func(context.Context, CanonicalID) ([]T, error), scope CanonicalID) ([]T, error) {
	octx, cancel := opContext(ctx, c.config.OpTimeout)
	defer cancel()
	return fn(octx, scope)
}

func (c *Checker[T]) resolve(recs []T, unresolvable *[]UnresolvableRecord) map[CanonicalID]T {
	byID := make(map[CanonicalID]T, len(recs))
	for _, rec := range recs {
		id, err := c.desc.Identity(rec)
		if err != nil {
			*unresolvable = append(*unresolvable, UnresolvableRecord{
				Label:  c.desc.Label(rec),
				Reason: err.Error(),
			})
			continue
		}
		byID[id] = rec
	}
	return byID
}

// checkChildren fans out one scoped check per (parent id, child type) under a
// bounded worker pool. A failed child check degrades that child's report
// instead of failing the parent check.
func (c *Checker[T]) checkChildren(ctx context.Context, sourceByID map[CanonicalID]T) []*SyncReport {
	parents := make([]CanonicalID, 0, len(sourceByID))
	for id := range sourceByID {
		parents = append(parents, id)
	}
	sortIDs(parents)

	limit := c.config.ChildConcurrency
	if limit <= 0 {
		limit = defaultChildConcurrency
	}

	reports := make([]*SyncReport, len(parents)*len(c.children))
	g := new(errgroup.Group)
	g.SetLimit(limit)
	for pi, parent := range parents {
		for ci, child := range c.children {
			slot := pi*len(c.children) + ci
			g.Go(func() error {
				rep, err := child.Check(ctx, parent)
				if err != nil {
					c.logger.Warn("Child check degraded",
						"entity_type", child.EntityType(), "scope", parent, "error", err)
					rep = degradedReport(child.EntityType(), parent)
				}
				reports[slot] = rep
				return nil
			})
		}
	}
	g.Wait()
	return reports
}

func opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}
