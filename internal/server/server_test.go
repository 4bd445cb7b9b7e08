package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsforecast/internal/dataset"
	"github.com/inferloop/tsforecast/internal/forecast"
	"github.com/inferloop/tsforecast/internal/observability/metrics"
	"github.com/inferloop/tsforecast/internal/storage/implementations/memory"
	"github.com/inferloop/tsforecast/pkg/errors"
)

const (
	testSeries  = 3
	testHorizon = 5
)

type fixture struct {
	server  *Server
	service *ForecastService
	metrics *metrics.PrometheusMetrics
	input   *forecast.RolloutInput
	logger  *logrus.Logger
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testModel(t *testing.T, inputSize int, seed uint64) *forecast.Model {
	t.Helper()
	cfg := forecast.DefaultConfig(inputSize)
	cfg.HiddenSize = 6
	cfg.NumLayers = 1
	cfg.Seed = seed
	model, err := forecast.NewModel(cfg, quietLogger())
	require.NoError(t, err)
	return model
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	logger := quietLogger()

	synth := dataset.DefaultSynthConfig()
	synth.NumSeries = testSeries
	synth.Length = 130
	synth.Horizon = testHorizon
	series, err := dataset.NewGenerator(synth, logger).Generate(context.Background())
	require.NoError(t, err)
	input, err := dataset.BuildForecast(series, 60)
	require.NoError(t, err)

	pm, err := metrics.NewPrometheusMetrics(metrics.DefaultPrometheusConfig(), logger)
	require.NoError(t, err)

	model := testModel(t, len(input.EncX[0][0]), 1)
	service, err := NewForecastService(model, "run-1", memory.NewCache(0), ServiceConfig{NumSamples: 2, Seed: 7}, pm, logger)
	require.NoError(t, err)

	cfg := NewDefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	srv, err := NewServer(cfg, service, Options{Metrics: pm}, logger)
	require.NoError(t, err)

	return &fixture{server: srv, service: service, metrics: pm, input: input, logger: logger}
}

func (f *fixture) do(method, path string, body []byte) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) post(t *testing.T, req ForecastRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	return f.do(http.MethodPost, "/v1/forecasts", body)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errors.ErrorResponse {
	t.Helper()
	var resp errors.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	return resp
}

func TestCreateAndGetForecast(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.post(t, ForecastRequest{RolloutInput: *f.input})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created ForecastResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	_, err := uuid.Parse(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "/v1/forecasts/"+created.ID, rec.Header().Get("Location"))
	assert.Equal(t, "run-1", created.RunID)
	assert.Equal(t, 2, created.Samples)
	require.Len(t, created.Forecast, testSeries)
	for _, row := range created.Forecast {
		require.Len(t, row, testHorizon)
		for _, v := range row {
			assert.GreaterOrEqual(t, v, 0.0)
		}
	}

	rec = f.do(http.MethodGet, "/v1/forecasts/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched ForecastResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, created.ID, fetched.ID)
	assert.Equal(t, created.Forecast, fetched.Forecast)
}

func TestGetUnknownForecast(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/v1/forecasts/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, errors.CodeDataNotFound, decodeError(t, rec).Error.Code)

	rec = f.do(http.MethodGet, "/v1/forecasts/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateForecastRejectsBadInput(t *testing.T) {
	f := newFixture(t, nil)

	t.Run("malformed", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/v1/forecasts", []byte(`{"enc_x": [`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		rec := f.do(http.MethodPost, "/v1/forecasts", []byte(`{"history": []}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("short history", func(t *testing.T) {
		in := *f.input
		in.EncX = make([][][]float64, len(f.input.EncX))
		in.EncZ = make([][]float64, len(f.input.EncZ))
		for i := range in.EncX {
			in.EncX[i] = f.input.EncX[i][30:]
			in.EncZ[i] = f.input.EncZ[i][30:]
		}
		rec := f.post(t, ForecastRequest{RolloutInput: in})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, errors.CodeInsufficientHistory, decodeError(t, rec).Error.Code)
	})

	t.Run("too many samples", func(t *testing.T) {
		rec := f.post(t, ForecastRequest{RolloutInput: *f.input, Samples: 5000})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRequestTooLarge(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.MaxRequestSize = 16 })

	rec := f.do(http.MethodPost, "/v1/forecasts", []byte(strings.Repeat(" ", 64)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHealthAndVersion(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status["status"])

	rec = f.do(http.MethodGet, "/version", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tsforecast")
}

func TestModelInfo(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(http.MethodGet, "/v1/model", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info ModelInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "run-1", info.RunID)
	assert.Equal(t, 6, info.Config.HiddenSize)
	assert.Positive(t, info.Parameters)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/health", nil).Code)
	require.Equal(t, http.StatusCreated, f.post(t, ForecastRequest{RolloutInput: *f.input}).Code)

	rec := f.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `tsforecast_http_requests_total{method="GET",path="/health",status="200"} 1`)
	assert.Contains(t, body, `tsforecast_forecast_requests_total{status="ok"} 1`)
	assert.Contains(t, body, "tsforecast_model_parameters")
}

func TestRequestIDAndNotFound(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))

	rec = f.do(http.MethodGet, "/v2/anything", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnmatchedRequestsGetMiddleware(t *testing.T) {
	f := newFixture(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/unknown", nil)
	req.Header.Set("X-Request-ID", "missing-route")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "missing-route", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "missing-route", decodeError(t, rec).RequestID)

	rec = f.do(http.MethodDelete, "/v1/forecasts", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	resp := decodeError(t, rec)
	assert.Equal(t, errors.CodeMethodNotAllowed, resp.Error.Code)
	assert.Equal(t, "/v1/forecasts", resp.Path)

	rec = f.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `tsforecast_http_requests_total{method="GET",path="unmatched",status="404"} 1`)
	assert.Contains(t, body, `tsforecast_http_requests_total{method="DELETE",path="unmatched",status="405"} 1`)
}

func TestCORSPreflightOnForecasts(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.EnableCORS = true })

	rec := f.do(http.MethodOptions, "/v1/forecasts", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestConcurrentForecastsDuringReload(t *testing.T) {
	f := newFixture(t, nil)
	inputSize := len(f.input.EncX[0][0])

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.service.Forecast(context.Background(), &ForecastRequest{RolloutInput: *f.input, Samples: 1})
			assert.NoError(t, err)
			if resp != nil {
				assert.Len(t, resp.Forecast, testSeries)
			}
		}()
	}
	for i := 0; i < 3; i++ {
		f.service.Reload(testModel(t, inputSize, uint64(i+2)), fmt.Sprintf("run-%d", i+2))
	}
	wg.Wait()

	assert.Equal(t, "run-4", f.service.Info().RunID)
}

func TestCanceledForecast(t *testing.T) {
	f := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.service.Forecast(ctx, &ForecastRequest{RolloutInput: *f.input})
	require.Error(t, err)

	status, _ := classify(err)
	assert.Equal(t, 499, status)
}

func TestClassify(t *testing.T) {
	status, appErr := classify(fmt.Errorf("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, errors.CodeInternalError, appErr.Code)

	status, _ = classify(errors.NewValidationError(errors.CodeShapeMismatch, "bad"))
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = classify(fmt.Errorf("wrapped: %w", context.DeadlineExceeded))
	assert.Equal(t, http.StatusGatewayTimeout, status)
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(nil, nil, Options{}, nil)
	assert.Error(t, err)

	_, err = NewForecastService(nil, "", memory.NewCache(0), ServiceConfig{}, nil, nil)
	assert.True(t, errors.HasCode(err, errors.CodeModelNotFound))
}
