package training

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/inferloop/tsforecast/internal/dataset"
	"github.com/inferloop/tsforecast/internal/forecast"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
)

// Config contains the optimization settings
type Config struct {
	RunID          string  `json:"run_id" mapstructure:"run_id"`
	BatchSize      int     `json:"batch_size" mapstructure:"batch_size"`
	Epochs         int     `json:"epochs" mapstructure:"epochs"`
	LearningRate   float64 `json:"learning_rate" mapstructure:"learning_rate"`
	Seed           uint64  `json:"seed" mapstructure:"seed"`
	UseAccelerator bool    `json:"use_accelerator" mapstructure:"use_accelerator"`
}

// DefaultConfig returns the reference optimization settings
func DefaultConfig() *Config {
	return &Config{
		BatchSize:    constants.DefaultBatchSize,
		Epochs:       constants.DefaultEpochs,
		LearningRate: constants.DefaultLearningRate,
		Seed:         constants.DefaultSeed,
	}
}

// Validate checks the optimization settings
func (c *Config) Validate() error {
	if c.BatchSize <= 0 {
		return errors.NewValidationError(errors.CodeInvalidConfig, "batch size must be positive")
	}
	if c.Epochs <= 0 {
		return errors.NewValidationError(errors.CodeInvalidConfig, "epochs must be positive")
	}
	if c.LearningRate <= 0 || math.IsNaN(c.LearningRate) || math.IsInf(c.LearningRate, 0) {
		return errors.NewValidationError(errors.CodeInvalidConfig, "learning rate must be a positive number")
	}
	return nil
}

// Model is what the trainer optimizes
type Model interface {
	Parameters() []*mat.Dense
	LossAndGradients(x [][][]float64, z, v [][]float64) (float64, []*mat.Dense, error)
}

// History records the loss trajectory of a run
type History struct {
	RunID     string        `json:"run_id"`
	EpochLoss []float64     `json:"epoch_loss"`
	BatchLoss []float64     `json:"batch_loss"`
	Steps     int           `json:"steps"`
	Duration  time.Duration `json:"duration"`
}

// FinalLoss returns the mean loss of the last epoch, or NaN before any epoch
func (h *History) FinalLoss() float64 {
	if len(h.EpochLoss) == 0 {
		return math.NaN()
	}
	return h.EpochLoss[len(h.EpochLoss)-1]
}

// Trainer runs minibatch Adam over a dataset
type Trainer struct {
	config    *Config
	logger    *logrus.Logger
	observers []Observer
}

// NewTrainer creates a new trainer
func NewTrainer(config *Config, logger *logrus.Logger, observers ...Observer) (*Trainer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	cfg := *config
	if cfg.RunID == "" {
		cfg.RunID = uuid.New().String()
	}
	return &Trainer{config: &cfg, logger: logger, observers: observers}, nil
}

// RunID returns the identifier attached to every observation of this trainer
func (tr *Trainer) RunID() string {
	return tr.config.RunID
}

// AddObserver registers an observer for subsequent runs
func (tr *Trainer) AddObserver(o Observer) {
	tr.observers = append(tr.observers, o)
}

// Train optimizes model on data. Every epoch shuffles the series, then each
// minibatch computes the loss, fresh gradients and one Adam step. A
// non-finite loss stops the run with the offending epoch and batch attached.
func (tr *Trainer) Train(ctx context.Context, model Model, data *dataset.Dataset) (*History, error) {
	if data == nil || data.Len() == 0 {
		return nil, errors.NewValidationError(errors.CodeEmptyDataset, "training dataset is empty")
	}
	if tr.config.UseAccelerator {
		tr.logger.Warn("No accelerator backend is available, training on CPU")
	}

	start := time.Now()
	rng := rand.New(rand.NewPCG(tr.config.Seed, tr.config.Seed^0x5deece66d))
	optimizer := forecast.NewAdamOptimizer(tr.config.LearningRate)
	history := &History{RunID: tr.config.RunID}

	tr.logger.WithFields(logrus.Fields{
		"run_id":        tr.config.RunID,
		"series":        data.Len(),
		"batch_size":    tr.config.BatchSize,
		"epochs":        tr.config.Epochs,
		"learning_rate": tr.config.LearningRate,
	}).Info("Starting training")

	for epoch := 0; epoch < tr.config.Epochs; epoch++ {
		epochStart := time.Now()
		batches := data.Batches(tr.config.BatchSize, rng)
		losses := make([]float64, 0, len(batches))

		for b, indices := range batches {
			select {
			case <-ctx.Done():
				history.Duration = time.Since(start)
				return history, ctx.Err()
			default:
			}

			batchStart := time.Now()
			batch, err := data.Batch(indices)
			if err != nil {
				return history, err
			}

			loss, grads, err := model.LossAndGradients(batch.X, batch.Z, batch.V)
			if err == nil && (math.IsNaN(loss) || math.IsInf(loss, 0)) {
				err = errors.ErrNonFiniteLoss
			}
			if err != nil {
				history.Duration = time.Since(start)
				return history, tr.batchFailed(err, epoch, b, loss)
			}

			optimizer.UpdateWeights(model.Parameters(), grads)
			history.Steps++
			history.BatchLoss = append(history.BatchLoss, loss)
			losses = append(losses, loss)

			result := BatchResult{
				RunID:    tr.config.RunID,
				Epoch:    epoch,
				Batch:    b,
				Batches:  len(batches),
				Size:     len(indices),
				Loss:     loss,
				Duration: time.Since(batchStart),
			}
			for _, o := range tr.observers {
				o.OnBatch(ctx, result)
			}

			tr.logger.WithFields(logrus.Fields{
				"epoch": epoch,
				"batch": fmt.Sprintf("%d/%d", b, len(batches)),
				"loss":  loss,
			}).Debug("Batch completed")
		}

		meanLoss := stat.Mean(losses, nil)
		history.EpochLoss = append(history.EpochLoss, meanLoss)

		result := EpochResult{
			RunID:    tr.config.RunID,
			Epoch:    epoch,
			MeanLoss: meanLoss,
			Duration: time.Since(epochStart),
		}
		for _, o := range tr.observers {
			o.OnEpoch(ctx, result)
		}

		tr.logger.WithFields(logrus.Fields{
			"epoch":      epoch + 1,
			"train_loss": meanLoss,
			"duration":   result.Duration,
		}).Info("Training epoch completed")
	}

	history.Duration = time.Since(start)
	tr.logger.WithFields(logrus.Fields{
		"run_id":     tr.config.RunID,
		"final_loss": history.FinalLoss(),
		"steps":      history.Steps,
		"duration":   history.Duration,
	}).Info("Training completed")

	return history, nil
}

func (tr *Trainer) batchFailed(err error, epoch, batch int, loss float64) error {
	code := errors.CodeTrainingFailed
	msg := fmt.Sprintf("training failed at epoch %d batch %d", epoch, batch)
	if errors.HasCode(err, errors.CodeNonFiniteLoss) || err == errors.ErrNonFiniteLoss {
		code = errors.CodeNonFiniteLoss
		msg = fmt.Sprintf("non-finite loss at epoch %d batch %d", epoch, batch)
	}

	tr.logger.WithFields(logrus.Fields{
		"run_id": tr.config.RunID,
		"epoch":  epoch,
		"batch":  batch,
		"loss":   loss,
		"error":  err,
	}).Error("Training halted")

	return errors.NewTrainingError(code, msg).
		WithCause(err).
		WithContext("epoch", epoch).
		WithContext("batch", batch)
}
