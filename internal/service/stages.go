package service

import (
	"time"

	"comanda/internal/domain"
)

// pipelineRank orders the statuses along the delivery pipeline. Cancellation
// sits outside the pipeline and is handled separately.
var pipelineRank = map[string]int{
	domain.OrderStatusWaiting:   0,
	domain.OrderStatusPreparing: 1,
	domain.OrderStatusReady:     2,
	domain.OrderStatusEnRoute:   3,
	domain.OrderStatusComplete:  4,
}

func isKnownStatus(status string) bool {
	_, ok := pipelineRank[status]
	return ok || status == domain.OrderStatusCancelled
}

// validateStatusTransition allows staying put or moving forward, skipping
// stages if needed. Terminal statuses never move.
func validateStatusTransition(from, to string) error {
	if !isKnownStatus(to) {
		return ErrInvalidStatus
	}
	if from == domain.OrderStatusComplete || from == domain.OrderStatusCancelled {
		return ErrOrderFinalized
	}
	if to == domain.OrderStatusCancelled {
		return nil
	}
	if pipelineRank[to] < pipelineRank[from] {
		return ErrInvalidTransition
	}
	return nil
}

func isTrackedStage(status string) bool {
	switch status {
	case domain.OrderStatusWaiting, domain.OrderStatusPreparing, domain.OrderStatusReady:
		return true
	}
	return false
}

// advanceStages closes the open interval of the previous stage and opens one
// for the next stage when it is a kitchen stage without an open interval.
func advanceStages(stages []domain.StageInterval, prev, next string, now time.Time) []domain.StageInterval {
	out := make([]domain.StageInterval, len(stages), len(stages)+1)
	copy(out, stages)

	if isTrackedStage(prev) {
		for i := len(out) - 1; i >= 0; i-- {
			if out[i].Stage != prev || out[i].FinishedAt != nil {
				continue
			}
			finishedAt := now
			duration := now.Sub(out[i].StartedAt).Milliseconds()
			if duration < 0 {
				duration = 0
			}
			out[i].FinishedAt = &finishedAt
			out[i].DurationMs = &duration
			break
		}
	}

	if isTrackedStage(next) && !hasOpenStage(out, next) {
		out = append(out, domain.StageInterval{Stage: next, StartedAt: now})
	}
	return out
}

func hasOpenStage(stages []domain.StageInterval, stage string) bool {
	for _, s := range stages {
		if s.Stage == stage && s.FinishedAt == nil {
			return true
		}
	}
	return false
}
