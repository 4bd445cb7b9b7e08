package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsforecast/internal/dataset"
	"github.com/inferloop/tsforecast/internal/evaluation"
	"github.com/inferloop/tsforecast/pkg/errors"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func synthArgs() []string {
	return []string{
		"synth",
		"--num-series", "4",
		"--length", "130",
		"--horizon", "5",
		"--holdout", "5",
		"--window", "20",
		"--out", "data/sales.json.gz",
	}
}

func TestVersionCommand(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := execute(t, "version")
	require.NoError(t, err)

	var info BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

func TestSynthCommand(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := execute(t, synthArgs()...)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 4 series to data/sales.json.gz")

	file, err := dataset.LoadFile("data/sales.json.gz")
	require.NoError(t, err)
	assert.Len(t, file.X, 4)
	assert.Len(t, file.Series, 4)
	require.True(t, file.HasRollout())
	assert.Len(t, file.DecZ[0], 5)
	assert.Len(t, file.Series[0].Covariates, 135)

	data, err := file.Training()
	require.NoError(t, err)
	assert.Len(t, data.Z[0], 20)
}

func TestSynthRejectsLongHoldout(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := execute(t, "synth", "--num-series", "2", "--length", "100", "--holdout", "100")
	assert.Error(t, err)
}

func TestWorkflow(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := execute(t, synthArgs()...)
	require.NoError(t, err)

	out, err := execute(t, "train",
		"--data", "data/sales.json.gz",
		"--run-id", "e2e",
		"--epochs", "2",
		"--batch-size", "2",
		"--hidden-size", "4",
		"--loss-plot", "plots/train-loss.png",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Run:        e2e")
	assert.Contains(t, out, "Checkpoint: e2e/model.ckpt.gz (local)")
	assert.FileExists(t, filepath.Join("models", "e2e", "model.ckpt.gz"))
	assert.FileExists(t, filepath.Join("models", "e2e", "history.json"))
	assert.FileExists(t, filepath.Join("plots", "train-loss.png"))

	t.Run("runs", func(t *testing.T) {
		out, err := execute(t, "runs")
		require.NoError(t, err)
		assert.Equal(t, "e2e\n", out)
	})

	t.Run("predict csv", func(t *testing.T) {
		_, err := execute(t, "predict",
			"--data", "data/sales.json.gz",
			"--run-id", "e2e",
			"--samples", "2",
			"--out", "out/submission.csv",
			"--plot", "out/forecast.png",
		)
		require.NoError(t, err)

		fh, err := os.Open("out/submission.csv")
		require.NoError(t, err)
		defer fh.Close()
		rows, err := csv.NewReader(fh).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 1+4*5)
		assert.Equal(t, []string{"id", "sales"}, rows[0])
		assert.Equal(t, "0", rows[1][0])
		assert.Equal(t, "19", rows[20][0])
		assert.FileExists(t, "out/forecast.png")
	})

	t.Run("predict json to stdout", func(t *testing.T) {
		out, err := execute(t, "predict",
			"--data", "data/sales.json.gz",
			"--run-id", "e2e",
			"--samples", "1",
			"--format", "json",
			"--out", "-",
		)
		require.NoError(t, err)
		var body struct {
			Forecast []struct {
				Series int       `json:"series"`
				Values []float64 `json:"values"`
			} `json:"forecast"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &body))
		require.Len(t, body.Forecast, 4)
		assert.Len(t, body.Forecast[3].Values, 5)
	})

	t.Run("predict is reproducible", func(t *testing.T) {
		args := []string{"predict", "--data", "data/sales.json.gz", "--run-id", "e2e", "--samples", "3", "--sample-seed", "7", "--out", "-"}
		first, err := execute(t, args...)
		require.NoError(t, err)
		second, err := execute(t, args...)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("evaluate", func(t *testing.T) {
		out, err := execute(t, "evaluate",
			"--data", "data/sales.json.gz",
			"--run-id", "e2e",
			"--samples", "2",
			"--report", "report.json",
		)
		require.NoError(t, err)
		assert.Contains(t, out, "RMSE:")
		assert.Contains(t, out, "SMAPE:")
		assert.Contains(t, out, "Series 4, horizon 5, samples 2")

		raw, err := os.ReadFile("report.json")
		require.NoError(t, err)
		var report evaluation.Report
		require.NoError(t, json.Unmarshal(raw, &report))
		assert.Equal(t, 4, report.Series)
		assert.GreaterOrEqual(t, report.SMAPE, 0.0)
		assert.LessOrEqual(t, report.SMAPE, 1.0)
	})

	t.Run("plot", func(t *testing.T) {
		out, err := execute(t, "plot", "--data", "data/sales.json.gz", "--run-id", "e2e", "--samples", "1")
		require.NoError(t, err)
		assert.Contains(t, out, filepath.Join("plots", "loss.png"))
		assert.FileExists(t, filepath.Join("plots", "loss.png"))
		assert.FileExists(t, filepath.Join("plots", "forecast.png"))
	})

	t.Run("unknown run", func(t *testing.T) {
		_, err := execute(t, "predict", "--data", "data/sales.json.gz", "--run-id", "missing", "--out", "-")
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.CodeModelNotFound))
	})
}

func TestConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	config := "storage:\n  checkpoint:\n    path: ckpts\ntraining:\n  epochs: 1\nmodel:\n  hidden_size: 3\n  num_layers: 1\n"
	require.NoError(t, os.WriteFile("tsforecast.yaml", []byte(config), 0o644))
	t.Setenv("TSFORECAST_TRAINING_BATCH_SIZE", "4")

	_, err := execute(t, synthArgs()...)
	require.NoError(t, err)
	_, err = execute(t, "train", "--data", "data/sales.json.gz", "--run-id", "from-config")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join("ckpts", "from-config", "model.ckpt.gz"))

	raw, err := os.ReadFile(filepath.Join("ckpts", "from-config", "history.json"))
	require.NoError(t, err)
	var history struct {
		EpochLoss []float64 `json:"epoch_loss"`
	}
	require.NoError(t, json.Unmarshal(raw, &history))
	assert.Len(t, history.EpochLoss, 1)
}

func TestCommandErrors(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name string
		args []string
		code string
	}{
		{name: "train without data", args: []string{"train"}, code: errors.CodeInvalidInput},
		{name: "plot without run", args: []string{"plot"}, code: errors.CodeInvalidInput},
		{name: "bad distribution", args: []string{"train", "--data", "x.json", "--distribution", "poisson"}, code: errors.CodeInvalidConfig},
		{name: "bad log level", args: []string{"runs", "--log-level", "loud"}, code: errors.CodeInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, tt.code), "got %v", err)
		})
	}

	t.Run("unknown flag", func(t *testing.T) {
		_, err := execute(t, "train", "--no-such-flag")
		assert.Error(t, err)
	})
	t.Run("bad format", func(t *testing.T) {
		_, err := execute(t, "predict", "--format", "xml")
		assert.ErrorContains(t, err, "unsupported export format")
	})
}
