package errors_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bulkhub/internal/bulk"
	apierrors "bulkhub/internal/errors"
)

func testHandler() *apierrors.ErrorHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return apierrors.NewErrorHandler(logger, false)
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandleErrorMapsEngineKinds(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{
			name:       "validation",
			err:        bulk.NewValidationError("owner id is required"),
			wantStatus: http.StatusBadRequest,
			wantType:   apierrors.TypeValidation,
		},
		{
			name: "batch too large",
			err: &bulk.Error{
				Kind:    bulk.ErrorKindBatchTooLarge,
				Message: "item set of 2000 exceeds maximum batch size 1000",
			},
			wantStatus: http.StatusBadRequest,
			wantType:   apierrors.TypeBatchTooLarge,
		},
		{
			name:       "not found",
			err:        fmt.Errorf("cancel: %w", bulk.ErrOperationNotFound),
			wantStatus: http.StatusNotFound,
			wantType:   apierrors.TypeOperationNotFound,
		},
		{
			name:       "invalid state",
			err:        bulk.ErrInvalidStateTransition,
			wantStatus: http.StatusConflict,
			wantType:   apierrors.TypeConflict,
		},
		{
			name:       "context cancelled",
			err:        context.Canceled,
			wantStatus: http.StatusGatewayTimeout,
			wantType:   apierrors.TypeTimeout,
		},
		{
			name:       "unclassified",
			err:        fmt.Errorf("disk exploded"),
			wantStatus: http.StatusInternalServerError,
			wantType:   apierrors.TypeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/operations", nil)
			rec := httptest.NewRecorder()

			testHandler().HandleError(rec, req, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			body := decodeProblem(t, rec)
			assert.Equal(t, tt.wantType, body["type"])
			assert.Equal(t, float64(tt.wantStatus), body["status"])
			assert.Contains(t, body, "trace_id")
		})
	}
}

func TestHandleErrorDoesNotLeakInternals(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/operations/abc", nil)
	rec := httptest.NewRecorder()

	testHandler().HandleError(rec, req, fmt.Errorf("pq: connection refused at 10.0.0.3:5432"))

	body := decodeProblem(t, rec)
	assert.NotContains(t, body["detail"], "10.0.0.3")
}

func TestProblemDetailsMarshalIncludesExtensions(t *testing.T) {
	problem := apierrors.NewProblemDetails(
		http.StatusBadRequest,
		apierrors.TypeValidation,
		"Validation Failed",
		"owner id is required",
		"/api/operations",
	).WithExtension("error_count", 2)

	raw, err := json.Marshal(problem)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, float64(2), body["error_count"])
	assert.Equal(t, "/api/operations", body["instance"])
}

func TestHandlePanicRespondsInternal(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/operations", nil)
	rec := httptest.NewRecorder()

	testHandler().HandlePanic(rec, req, "boom")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeProblem(t, rec)
	assert.Equal(t, apierrors.TypeInternal, body["type"])
}
