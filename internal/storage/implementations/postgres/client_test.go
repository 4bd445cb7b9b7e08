package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
)

func TestNewRunRegistry(t *testing.T) {
	registry, err := NewRunRegistry(&PostgresConfig{
		Host:     "localhost",
		Database: "forecasts",
	}, logrus.New())
	require.NoError(t, err)

	assert.Equal(t, 5432, registry.config.Port)
	assert.Equal(t, "disable", registry.config.SSLMode)
	assert.Equal(t, `"training_runs"`, registry.table)
	assert.Equal(t, "localhost:5432/forecasts", registry.location())
}

func TestNewRunRegistryInvalidConfig(t *testing.T) {
	_, err := NewRunRegistry(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config cannot be nil")

	_, err = NewRunRegistry(&PostgresConfig{Host: "localhost"}, nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidConfig))
}

func TestConnStringQuotesValues(t *testing.T) {
	registry, err := NewRunRegistry(&PostgresConfig{
		Host:           "db.internal",
		Port:           6543,
		Database:       "runs",
		Username:       "trainer",
		Password:       "it's secret",
		SSLMode:        "require",
		ConnectTimeout: 5 * time.Second,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t,
		`host='db.internal' port=6543 user='trainer' password='it\'s secret' dbname='runs' sslmode=require connect_timeout=5`,
		registry.connString())
}

func TestSchemaHasRunColumns(t *testing.T) {
	registry, err := NewRunRegistry(&PostgresConfig{Host: "localhost", Database: "runs"}, nil)
	require.NoError(t, err)

	schema := registry.schema()
	assert.Contains(t, schema, `CREATE TABLE IF NOT EXISTS "training_runs"`)
	for _, col := range []string{"id", "distribution", "hidden_size", "epochs", "batch_size",
		"learning_rate", "status", "final_loss", "checkpoint_path", "started_at", "finished_at"} {
		assert.Contains(t, schema, col)
	}
}

func TestRegistryRequiresConnection(t *testing.T) {
	registry, err := NewRunRegistry(&PostgresConfig{Host: "localhost", Database: "runs"}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	err = registry.StartRun(ctx, &Run{ID: "r1", StartedAt: time.Now()})
	assert.True(t, errors.HasCode(err, errors.CodeNotConnected))

	_, err = registry.GetRun(ctx, "r1")
	assert.True(t, errors.HasCode(err, errors.CodeNotConnected))

	_, err = registry.ListRuns(ctx, 5)
	assert.True(t, errors.HasCode(err, errors.CodeNotConnected))

	loss := 1.5
	err = registry.FinishRun(ctx, "r1", constants.RunStatusCompleted, &loss, "models/r1/model.ckpt.gz")
	assert.True(t, errors.HasCode(err, errors.CodeNotConnected))
}

func TestRunRegistryIntegration(t *testing.T) {
	t.Skip("Integration test - requires running Postgres instance")

	registry, err := NewRunRegistry(&PostgresConfig{
		Host:     "localhost",
		Database: "tsforecast_test",
		Username: "postgres",
	}, logrus.New())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, registry.Connect(ctx))
	defer registry.Close()

	run := &Run{
		ID:           "integration-run",
		Distribution: constants.DistributionNegativeBinomial,
		HiddenSize:   40,
		Epochs:       1,
		BatchSize:    64,
		LearningRate: 0.001,
		StartedAt:    time.Now().UTC(),
	}
	require.NoError(t, registry.StartRun(ctx, run))

	loss := 2.5
	require.NoError(t, registry.FinishRun(ctx, run.ID, constants.RunStatusCompleted, &loss, "models/x"))

	got, err := registry.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.RunStatusCompleted, got.Status)
	require.NotNil(t, got.FinalLoss)
	assert.Equal(t, loss, *got.FinalLoss)
}
