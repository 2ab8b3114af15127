package service

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/hangw/agentcheck/internal/analysis"
	"github.com/hangw/agentcheck/internal/db"
	awerr "github.com/hangw/agentcheck/internal/errors"
	"github.com/hangw/agentcheck/internal/events"
	"github.com/hangw/agentcheck/internal/task"
)

// recentWindow is how many of the newest tasks feed the recent rates.
const recentWindow = 50

// Stats is the operator dashboard summary.
type Stats struct {
	TotalTasks     int            `json:"total_tasks"`
	StatusCounts   map[string]int `json:"status_counts"`
	ReasonBuckets  map[string]int `json:"reason_buckets"`
	ProviderErrors map[string]int `json:"provider_errors"`

	RecentTasks        int     `json:"recent_tasks"`
	RecentPassRate     float64 `json:"recent_pass_rate"`
	RecentFailureRate  float64 `json:"recent_failure_rate"`
	MeanDurationSecond float64 `json:"mean_duration_seconds"`
}

// TaxonomyRow is one failure bucket with its share of terminal tasks.
type TaxonomyRow struct {
	Bucket string  `json:"bucket"`
	Count  int     `json:"count"`
	Share  float64 `json:"share"`
}

// TrendPoint aggregates one UTC day.
type TrendPoint struct {
	Day    string `json:"day"`
	Total  int    `json:"total"`
	Passed int    `json:"passed"`
	Failed int    `json:"failed"`
}

// ReviewerStat summarizes one reviewer's verdict distribution. The
// drift score is the absolute distance from the global adverse rate, so
// rubber-stampers and serial blockers both stand out.
type ReviewerStat struct {
	Participant string  `json:"participant"`
	Reviews     int     `json:"reviews"`
	Blockers    int     `json:"blockers"`
	Unknowns    int     `json:"unknowns"`
	AdverseRate float64 `json:"adverse_rate"`
	DriftScore  float64 `json:"drift_score"`
}

// Analytics is the failure-taxonomy report.
type Analytics struct {
	FailureTaxonomy   []TaxonomyRow  `json:"failure_taxonomy"`
	Trend             []TrendPoint   `json:"trend"`
	Reviewers         []ReviewerStat `json:"reviewers"`
	GlobalAdverseRate float64        `json:"global_adverse_rate"`
}

// AnalyticsService derives read-only aggregates from the repository.
type AnalyticsService struct {
	store db.Store
}

// NewAnalyticsService creates an AnalyticsService.
func NewAnalyticsService(store db.Store) *AnalyticsService {
	return &AnalyticsService{store: store}
}

// Stats aggregates status counts, reason buckets, provider error
// attributions, recent pass/fail rates, and mean terminal duration.
func (a *AnalyticsService) Stats(ctx context.Context) (*Stats, error) {
	rows, err := a.store.ListTasks(ctx, 0)
	if err != nil {
		return nil, awerr.ErrDatabase("list_tasks", err)
	}

	out := &Stats{
		TotalTasks:     len(rows),
		StatusCounts:   map[string]int{},
		ReasonBuckets:  map[string]int{},
		ProviderErrors: map[string]int{},
	}
	var durationSum float64
	var durationCount int
	for _, row := range rows {
		out.StatusCounts[string(row.Status)]++
		if bucket := analysis.ReasonBucket(row.LastGateReason); bucket != "" && bucket != "passed" {
			out.ReasonBuckets[bucket]++
		}
		if row.Status == task.StatusFailedSystem {
			if provider := analysis.ProviderFromReason(row.LastGateReason); provider != "" {
				out.ProviderErrors[provider]++
			}
		}
		if task.IsSettled(row.Status) && !row.CreatedAt.IsZero() && !row.UpdatedAt.IsZero() {
			if d := row.UpdatedAt.Sub(row.CreatedAt).Seconds(); d >= 0 {
				durationSum += d
				durationCount++
			}
		}
	}
	if durationCount > 0 {
		out.MeanDurationSecond = durationSum / float64(durationCount)
	}

	// rows are newest-first; take the terminal slice of the window.
	recent := rows
	if len(recent) > recentWindow {
		recent = recent[:recentWindow]
	}
	var recentTerminal, recentPassed, recentFailed int
	for _, row := range recent {
		if !task.IsSettled(row.Status) {
			continue
		}
		recentTerminal++
		switch row.Status {
		case task.StatusPassed:
			recentPassed++
		case task.StatusFailedGate, task.StatusFailedSystem:
			recentFailed++
		}
	}
	out.RecentTasks = recentTerminal
	if recentTerminal > 0 {
		out.RecentPassRate = float64(recentPassed) / float64(recentTerminal)
		out.RecentFailureRate = float64(recentFailed) / float64(recentTerminal)
	}
	return out, nil
}

// Analytics builds the failure taxonomy, per-day trend, and reviewer
// drift report.
func (a *AnalyticsService) Analytics(ctx context.Context) (*Analytics, error) {
	rows, err := a.store.ListTasks(ctx, 0)
	if err != nil {
		return nil, awerr.ErrDatabase("list_tasks", err)
	}

	out := &Analytics{}

	buckets := map[string]int{}
	var terminal int
	trend := map[string]*TrendPoint{}
	for _, row := range rows {
		if !row.CreatedAt.IsZero() {
			day := analysis.FormatTaskDay(row.CreatedAt)
			point, ok := trend[day]
			if !ok {
				point = &TrendPoint{Day: day}
				trend[day] = point
			}
			point.Total++
			switch row.Status {
			case task.StatusPassed:
				point.Passed++
			case task.StatusFailedGate, task.StatusFailedSystem:
				point.Failed++
			}
		}
		if !task.IsSettled(row.Status) || row.Status == task.StatusCanceled {
			continue
		}
		terminal++
		if row.Status == task.StatusPassed {
			continue
		}
		if bucket := analysis.ReasonBucket(row.LastGateReason); bucket != "" {
			buckets[bucket]++
		}
	}
	for bucket, count := range buckets {
		share := 0.0
		if terminal > 0 {
			share = float64(count) / float64(terminal)
		}
		out.FailureTaxonomy = append(out.FailureTaxonomy, TaxonomyRow{Bucket: bucket, Count: count, Share: share})
	}
	sort.Slice(out.FailureTaxonomy, func(i, j int) bool {
		if out.FailureTaxonomy[i].Count != out.FailureTaxonomy[j].Count {
			return out.FailureTaxonomy[i].Count > out.FailureTaxonomy[j].Count
		}
		return out.FailureTaxonomy[i].Bucket < out.FailureTaxonomy[j].Bucket
	})
	for _, day := range sortedKeys(trend) {
		out.Trend = append(out.Trend, *trend[day])
	}

	reviewerStats := map[string]*ReviewerStat{}
	var totalReviews, totalAdverse int
	for _, row := range rows {
		evs, err := a.store.ListEvents(ctx, row.TaskID, 0, 0)
		if err != nil {
			continue
		}
		for _, evt := range evs {
			if evt.Type != events.EventReview && evt.Type != events.EventProposalReview {
				continue
			}
			participant, _ := evt.Payload["participant"].(string)
			verdictRaw, _ := evt.Payload["verdict"].(string)
			if participant == "" || verdictRaw == "" {
				continue
			}
			stat, ok := reviewerStats[participant]
			if !ok {
				stat = &ReviewerStat{Participant: participant}
				reviewerStats[participant] = stat
			}
			stat.Reviews++
			totalReviews++
			switch task.Verdict(strings.ToLower(verdictRaw)) {
			case task.VerdictBlocker:
				stat.Blockers++
				totalAdverse++
			case task.VerdictUnknown:
				stat.Unknowns++
				totalAdverse++
			}
		}
	}
	if totalReviews > 0 {
		out.GlobalAdverseRate = float64(totalAdverse) / float64(totalReviews)
	}
	for _, name := range sortedKeys(reviewerStats) {
		stat := reviewerStats[name]
		if stat.Reviews > 0 {
			stat.AdverseRate = float64(stat.Blockers+stat.Unknowns) / float64(stat.Reviews)
		}
		stat.DriftScore = math.Abs(stat.AdverseRate - out.GlobalAdverseRate)
		out.Reviewers = append(out.Reviewers, *stat)
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
