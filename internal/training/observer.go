package training

import (
	"context"
	"time"
)

// BatchResult describes one completed optimizer step
type BatchResult struct {
	RunID    string        `json:"run_id"`
	Epoch    int           `json:"epoch"`
	Batch    int           `json:"batch"`
	Batches  int           `json:"batches"`
	Size     int           `json:"size"`
	Loss     float64       `json:"loss"`
	Duration time.Duration `json:"duration"`
}

// EpochResult describes one completed pass over the dataset
type EpochResult struct {
	RunID    string        `json:"run_id"`
	Epoch    int           `json:"epoch"`
	MeanLoss float64       `json:"mean_loss"`
	Duration time.Duration `json:"duration"`
}

// Observer is notified as training progresses. Implementations must not
// block for long; failures are theirs to log.
type Observer interface {
	OnBatch(ctx context.Context, result BatchResult)
	OnEpoch(ctx context.Context, result EpochResult)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Batch func(ctx context.Context, result BatchResult)
	Epoch func(ctx context.Context, result EpochResult)
}

// OnBatch implements Observer
func (f ObserverFuncs) OnBatch(ctx context.Context, result BatchResult) {
	if f.Batch != nil {
		f.Batch(ctx, result)
	}
}

// OnEpoch implements Observer
func (f ObserverFuncs) OnEpoch(ctx context.Context, result EpochResult) {
	if f.Epoch != nil {
		f.Epoch(ctx, result)
	}
}
