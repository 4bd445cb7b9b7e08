package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
)

const storageType = "postgres"

// PostgresConfig holds configuration for the training run registry
type PostgresConfig struct {
	Enabled         bool          `json:"enabled" mapstructure:"enabled"`
	Host            string        `json:"host" mapstructure:"host"`
	Port            int           `json:"port" mapstructure:"port"`
	Database        string        `json:"database" mapstructure:"database"`
	Username        string        `json:"username" mapstructure:"username"`
	Password        string        `json:"password" mapstructure:"password"`
	SSLMode         string        `json:"ssl_mode" mapstructure:"ssl_mode"`
	ConnectTimeout  time.Duration `json:"connect_timeout" mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration `json:"query_timeout" mapstructure:"query_timeout"`
	MaxConnections  int           `json:"max_connections" mapstructure:"max_connections"`
	MaxIdleConns    int           `json:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// Run is one row of the training run registry
type Run struct {
	ID             string     `json:"id"`
	Distribution   string     `json:"distribution"`
	HiddenSize     int        `json:"hidden_size"`
	Epochs         int        `json:"epochs"`
	BatchSize      int        `json:"batch_size"`
	LearningRate   float64    `json:"learning_rate"`
	Status         string     `json:"status"`
	FinalLoss      *float64   `json:"final_loss,omitempty"`
	CheckpointPath string     `json:"checkpoint_path,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// RunRegistry records training runs in Postgres
type RunRegistry struct {
	config *PostgresConfig
	db     *sql.DB
	logger *logrus.Logger
	table  string
	mu     sync.RWMutex
}

// NewRunRegistry creates a new registry instance
func NewRunRegistry(config *PostgresConfig, logger *logrus.Logger) (*RunRegistry, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Postgres config cannot be nil")
	}
	if config.Host == "" || config.Database == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "Postgres host and database are required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	if config.Port == 0 {
		config.Port = 5432
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = constants.DefaultStorageTimeout
	}
	if config.QueryTimeout == 0 {
		config.QueryTimeout = constants.DefaultStorageTimeout
	}

	return &RunRegistry{
		config: config,
		logger: logger,
		table:  pq.QuoteIdentifier(constants.TableTrainingRuns),
	}, nil
}

// Connect opens the pool, pings the server and creates the table
func (r *RunRegistry) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db != nil {
		return nil
	}

	db, err := sql.Open("postgres", r.connString())
	if err != nil {
		return errors.NewStorageConnectionError(storageType, r.location(), err)
	}
	db.SetMaxOpenConns(r.config.MaxConnections)
	db.SetMaxIdleConns(r.config.MaxIdleConns)
	db.SetConnMaxLifetime(r.config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(ctx, r.config.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return errors.NewStorageConnectionError(storageType, r.location(), err)
	}
	if _, err := db.ExecContext(ctx, r.schema()); err != nil {
		db.Close()
		return errors.WrapStorageError(err, "create_schema", storageType).WithLocation(r.location())
	}

	r.db = db
	r.logger.WithFields(logrus.Fields{
		"host":     r.config.Host,
		"port":     r.config.Port,
		"database": r.config.Database,
	}).Info("Connected to Postgres")

	return nil
}

// Close closes the database connection
func (r *RunRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	if err != nil {
		return errors.WrapStorageError(err, "close", storageType).WithLocation(r.location())
	}
	return nil
}

// StartRun inserts a run in the running state
func (r *RunRegistry) StartRun(ctx context.Context, run *Run) error {
	query := fmt.Sprintf(`INSERT INTO %s
		(id, distribution, hidden_size, epochs, batch_size, learning_rate, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, r.table)

	return r.exec(ctx, "start_run", query,
		run.ID, run.Distribution, run.HiddenSize, run.Epochs, run.BatchSize, run.LearningRate,
		constants.RunStatusRunning, run.StartedAt)
}

// FinishRun records the outcome of a run. finalLoss is nil when training
// failed before any batch completed.
func (r *RunRegistry) FinishRun(ctx context.Context, id, status string, finalLoss *float64, checkpointPath string) error {
	query := fmt.Sprintf(`UPDATE %s
		SET status = $2, final_loss = $3, checkpoint_path = $4, finished_at = $5
		WHERE id = $1`, r.table)

	var loss sql.NullFloat64
	if finalLoss != nil {
		loss = sql.NullFloat64{Float64: *finalLoss, Valid: true}
	}
	return r.exec(ctx, "finish_run", query, id, status, loss, checkpointPath, time.Now().UTC())
}

// GetRun loads a run by id
func (r *RunRegistry) GetRun(ctx context.Context, id string) (*Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.db == nil {
		return nil, errors.NewStorageError(errors.CodeNotConnected, "Postgres not connected")
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.QueryTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, runColumns, r.table)
	run, err := scanRun(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewStorageNotFoundError(storageType, id)
	}
	if err != nil {
		return nil, errors.WrapStorageError(err, "get_run", storageType).WithLocation(r.location())
	}
	return run, nil
}

// ListRuns returns the most recent runs first
func (r *RunRegistry) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.db == nil {
		return nil, errors.NewStorageError(errors.CodeNotConnected, "Postgres not connected")
	}
	if limit <= 0 {
		limit = 20
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.QueryTimeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY started_at DESC LIMIT $1`, runColumns, r.table)
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, errors.WrapStorageError(err, "list_runs", storageType).WithLocation(r.location())
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, errors.WrapStorageError(err, "list_runs", storageType).WithLocation(r.location())
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapStorageError(err, "list_runs", storageType).WithLocation(r.location())
	}
	return runs, nil
}

func (r *RunRegistry) exec(ctx context.Context, operation, query string, args ...interface{}) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.db == nil {
		return errors.NewStorageError(errors.CodeNotConnected, "Postgres not connected")
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.QueryTimeout)
	defer cancel()

	start := time.Now()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return errors.WrapStorageError(err, operation, storageType).
			WithLocation(r.location()).
			WithDuration(time.Since(start))
	}
	return nil
}

const runColumns = `id, distribution, hidden_size, epochs, batch_size, learning_rate, status,
	final_loss, checkpoint_path, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run        Run
		finalLoss  sql.NullFloat64
		checkpoint sql.NullString
		finishedAt pq.NullTime
	)
	err := row.Scan(&run.ID, &run.Distribution, &run.HiddenSize, &run.Epochs, &run.BatchSize,
		&run.LearningRate, &run.Status, &finalLoss, &checkpoint, &run.StartedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	if finalLoss.Valid {
		run.FinalLoss = &finalLoss.Float64
	}
	run.CheckpointPath = checkpoint.String
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return &run, nil
}

func (r *RunRegistry) schema() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id VARCHAR(64) PRIMARY KEY,
		distribution VARCHAR(32) NOT NULL,
		hidden_size INTEGER NOT NULL,
		epochs INTEGER NOT NULL,
		batch_size INTEGER NOT NULL,
		learning_rate DOUBLE PRECISION NOT NULL,
		status VARCHAR(16) NOT NULL,
		final_loss DOUBLE PRECISION,
		checkpoint_path TEXT,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ
	)`, r.table)
}

// connString builds a key=value DSN, quoting values as lib/pq expects
func (r *RunRegistry) connString() string {
	quote := func(v string) string {
		v = strings.ReplaceAll(v, `\`, `\\`)
		return "'" + strings.ReplaceAll(v, "'", `\'`) + "'"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		quote(r.config.Host),
		r.config.Port,
		quote(r.config.Username),
		quote(r.config.Password),
		quote(r.config.Database),
		r.config.SSLMode,
		int(r.config.ConnectTimeout/time.Second),
	)
}

func (r *RunRegistry) location() string {
	return fmt.Sprintf("%s:%d/%s", r.config.Host, r.config.Port, r.config.Database)
}
