package influxdb

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

func TestNewInfluxDBStorage(t *testing.T) {
	config := &InfluxDBConfig{
		URL:    "http://localhost:8086",
		Bucket: "forecasts",
	}
	storage, err := NewInfluxDBStorage(config, logrus.New())
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultStorageTimeout, storage.config.Timeout)
	assert.Equal(t, 24*time.Hour, storage.config.Interval)
	assert.False(t, storage.IsConnected())
}

func TestNewInfluxDBStorageInvalidConfig(t *testing.T) {
	_, err := NewInfluxDBStorage(nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config cannot be nil")

	_, err = NewInfluxDBStorage(&InfluxDBConfig{Bucket: "b"}, nil)
	assert.Contains(t, err.Error(), "URL is required")

	_, err = NewInfluxDBStorage(&InfluxDBConfig{URL: "http://localhost:8086"}, nil)
	assert.Contains(t, err.Error(), "bucket is required")
	assert.True(t, errors.HasCode(err, errors.CodeInvalidConfig))
}

func TestForecastPoints(t *testing.T) {
	start := time.Date(2015, 11, 1, 0, 0, 0, 0, time.UTC)
	points := ForecastPoints("run-1", start, 24*time.Hour, [][]float64{{1, 2, 3}, {4, 5, 6}})
	require.Len(t, points, 6)

	p := points[4]
	assert.Equal(t, constants.MeasurementForecast, p.Name())
	assert.Equal(t, start.Add(24*time.Hour), p.Time())

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, map[string]string{"run_id": "run-1", "series": "1"}, tags)

	require.Len(t, p.FieldList(), 1)
	assert.Equal(t, "sales", p.FieldList()[0].Key)
	assert.Equal(t, 5.0, p.FieldList()[0].Value)
}

func TestLossPoint(t *testing.T) {
	at := time.Unix(1600000000, 0)
	p := LossPoint("run-1", constants.DistributionNegativeBinomial, 2, 7, 1.25, at)

	assert.Equal(t, constants.MeasurementTrainingLoss, p.Name())
	assert.Equal(t, at, p.Time())

	fields := map[string]interface{}{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, 1.25, fields["loss"])
	assert.EqualValues(t, 2, fields["epoch"])
	assert.EqualValues(t, 7, fields["batch"])

	tags := map[string]string{}
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	assert.Equal(t, "negbin", tags["distribution"])
}

func TestWriteRequiresConnection(t *testing.T) {
	storage, err := NewInfluxDBStorage(&InfluxDBConfig{URL: "http://localhost:8086", Bucket: "b"}, nil)
	require.NoError(t, err)

	err = storage.WriteForecast(context.Background(), "run-1", time.Now(), [][]float64{{1}})
	assert.True(t, errors.HasCode(err, errors.CodeNotConnected))

	err = storage.WriteTrainingLoss(context.Background(), "run-1", "negbin", 0, 0, 1, time.Now())
	assert.True(t, errors.HasCode(err, errors.CodeNotConnected))
}
