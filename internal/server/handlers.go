package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/inferloop/tsforecast/internal/observability/health"
	"github.com/inferloop/tsforecast/pkg/constants"
	"github.com/inferloop/tsforecast/pkg/errors"
)

// createForecast handles POST /v1/forecasts
func (s *Server) createForecast(w http.ResponseWriter, r *http.Request) {
	var req ForecastRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			appErr := errors.NewValidationError(errors.CodeInvalidInput, "request body too large")
			appErr.HTTPStatus = http.StatusRequestEntityTooLarge
			s.writeError(w, r, appErr)
			return
		}
		s.writeError(w, r, errors.WrapError(err, errors.ErrorTypeValidation, errors.CodeInvalidInput, "malformed forecast request"))
		return
	}

	ctx := r.Context()
	if s.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.RequestTimeout)
		defer cancel()
	}

	resp, err := s.forecasts.Forecast(ctx, &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", constants.APIPrefix+"/forecasts/"+resp.ID)
	s.writeJSON(w, http.StatusCreated, resp)
}

// getForecast handles GET /v1/forecasts/{id}
func (s *Server) getForecast(w http.ResponseWriter, r *http.Request) {
	resp, err := s.forecasts.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// getModel handles GET /v1/model
func (s *Server) getModel(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.forecasts.Info())
}

// getHealth handles GET /health. Only an unhealthy system returns 503.
func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	status := s.health.Check(r.Context())
	code := http.StatusOK
	if status.OverallStatus == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}

func (s *Server) getVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"name":    constants.AppName,
		"version": constants.AppVersion,
		"api":     constants.APIVersion,
	})
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	err := errors.NewValidationError(errors.CodeDataNotFound, "route not found")
	err.HTTPStatus = http.StatusNotFound
	s.writeError(w, r, err)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	err := errors.NewValidationError(errors.CodeMethodNotAllowed,
		"method "+r.Method+" not allowed on "+r.URL.Path)
	err.HTTPStatus = http.StatusMethodNotAllowed
	s.writeError(w, r, err)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Warn("Failed to write response")
	}
}

// writeError renders err as an ErrorResponse with a status derived from it
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, appErr := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("request_id", getRequestID(r)).Error("Request failed")
	}
	s.writeJSON(w, status, errors.ErrorResponse{
		Error:     appErr,
		RequestID: getRequestID(r),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Path:      r.URL.Path,
	})
}

func classify(err error) (int, *errors.AppError) {
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError, "forecast timed out")
	case stderrors.Is(err, context.Canceled):
		return 499, errors.WrapError(err, errors.ErrorTypeInternal, errors.CodeInternalError, "request canceled")
	}

	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		return http.StatusInternalServerError, errors.NewInternalError(err.Error())
	}
	switch {
	case errors.HasCode(err, errors.CodeDataNotFound), errors.HasCode(err, errors.CodeModelNotFound):
		return http.StatusNotFound, appErr
	case appErr.Type == errors.ErrorTypeValidation && appErr.HTTPStatus == 0:
		return http.StatusBadRequest, appErr
	case appErr.HTTPStatus != 0:
		return appErr.HTTPStatus, appErr
	}
	return http.StatusInternalServerError, appErr
}
