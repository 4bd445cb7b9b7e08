package influxdb

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
)

const storageType = "influxdb"

// InfluxDBConfig contains configuration for the InfluxDB writer
type InfluxDBConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	URL          string        `json:"url" mapstructure:"url"`
	Token        string        `json:"token" mapstructure:"token"`
	Organization string        `json:"organization" mapstructure:"organization"`
	Bucket       string        `json:"bucket" mapstructure:"bucket"`
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
	UseGZip      bool          `json:"use_gzip" mapstructure:"use_gzip"`
	// Interval is the wall-clock length of one forecast step
	Interval time.Duration `json:"interval" mapstructure:"interval"`
}

// InfluxDBStorage writes forecasts and training losses as points
type InfluxDBStorage struct {
	config    *InfluxDBConfig
	client    influxdb2.Client
	writeAPI  api.WriteAPIBlocking
	logger    *logrus.Logger
	mu        sync.RWMutex
	connected bool
}

// NewInfluxDBStorage creates a new InfluxDB storage instance
func NewInfluxDBStorage(config *InfluxDBConfig, logger *logrus.Logger) (*InfluxDBStorage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "InfluxDB config cannot be nil")
	}
	if config.URL == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "InfluxDB URL is required")
	}
	if config.Bucket == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "InfluxDB bucket is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	if config.Timeout == 0 {
		config.Timeout = constants.DefaultStorageTimeout
	}
	if config.Interval == 0 {
		config.Interval = 24 * time.Hour
	}

	return &InfluxDBStorage{
		config: config,
		logger: logger,
	}, nil
}

// Connect establishes connection to InfluxDB
func (s *InfluxDBStorage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	options := influxdb2.DefaultOptions()
	options.SetUseGZip(s.config.UseGZip)
	options.SetPrecision(time.Second)
	options.SetHTTPRequestTimeout(uint(s.config.Timeout / time.Second))

	client := influxdb2.NewClientWithOptions(s.config.URL, s.config.Token, options)
	ok, err := client.Ping(ctx)
	if err != nil || !ok {
		client.Close()
		if err == nil {
			err = fmt.Errorf("ping returned not ready")
		}
		return errors.NewStorageConnectionError(storageType, s.config.URL, err)
	}

	s.client = client
	s.writeAPI = client.WriteAPIBlocking(s.config.Organization, s.config.Bucket)
	s.connected = true

	s.logger.WithFields(logrus.Fields{
		"url":          s.config.URL,
		"organization": s.config.Organization,
		"bucket":       s.config.Bucket,
	}).Info("Connected to InfluxDB")

	return nil
}

// Close closes the connection to InfluxDB
func (s *InfluxDBStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil
	}
	s.client.Close()
	s.connected = false
	s.logger.Info("Disconnected from InfluxDB")
	return nil
}

// IsConnected returns whether the storage is connected
func (s *InfluxDBStorage) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// WriteForecast writes one sales_forecast point per series and step. Step t
// is stamped start + t*Interval.
func (s *InfluxDBStorage) WriteForecast(ctx context.Context, runID string, start time.Time, forecast [][]float64) error {
	points := ForecastPoints(runID, start, s.config.Interval, forecast)
	if err := s.write(ctx, "write_forecast", points); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"run_id": runID,
		"series": len(forecast),
		"points": len(points),
	}).Debug("Wrote forecast to InfluxDB")
	return nil
}

// WriteTrainingLoss writes one training_loss point
func (s *InfluxDBStorage) WriteTrainingLoss(ctx context.Context, runID, distribution string, epoch, batch int, loss float64, at time.Time) error {
	return s.write(ctx, "write_loss", []*write.Point{LossPoint(runID, distribution, epoch, batch, loss, at)})
}

func (s *InfluxDBStorage) write(ctx context.Context, operation string, points []*write.Point) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return errors.NewStorageError(errors.CodeNotConnected, "Not connected to InfluxDB")
	}
	if len(points) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	start := time.Now()
	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		return errors.WrapStorageError(err, operation, storageType).
			WithLocation(s.config.Bucket).
			WithDuration(time.Since(start))
	}
	return nil
}

// ForecastPoints lays a (N, T) forecast out as sales_forecast points
func ForecastPoints(runID string, start time.Time, interval time.Duration, forecast [][]float64) []*write.Point {
	var points []*write.Point
	for i, series := range forecast {
		tags := map[string]string{
			"run_id": runID,
			"series": strconv.Itoa(i),
		}
		for t, v := range series {
			points = append(points, write.NewPoint(
				constants.MeasurementForecast,
				tags,
				map[string]interface{}{"sales": v},
				start.Add(time.Duration(t)*interval),
			))
		}
	}
	return points
}

// LossPoint builds a training_loss point
func LossPoint(runID, distribution string, epoch, batch int, loss float64, at time.Time) *write.Point {
	return write.NewPoint(
		constants.MeasurementTrainingLoss,
		map[string]string{
			"run_id":       runID,
			"distribution": distribution,
		},
		map[string]interface{}{
			"loss":  loss,
			"epoch": epoch,
			"batch": batch,
		},
		at,
	)
}
