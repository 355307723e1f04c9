package prometheus

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EojEdred/Etrid-Infra-sub001/runtime"
)

type stubService struct {
	status error
}

func (s *stubService) Start()        {}
func (s *stubService) Stop() error   { return nil }
func (s *stubService) Status() error { return s.status }

func TestHealthzOK(t *testing.T) {
	registry := runtime.NewServiceRegistry()
	require.NoError(t, registry.RegisterService(&stubService{}))
	svc := NewService(":0", registry)

	rec := httptest.NewRecorder()
	svc.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "OK")
}

func TestHealthzReportsFailingService(t *testing.T) {
	registry := runtime.NewServiceRegistry()
	require.NoError(t, registry.RegisterService(&stubService{status: errors.New("adapter down")}))
	svc := NewService(":0", registry)

	rec := httptest.NewRecorder()
	svc.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERROR adapter down")
}

func TestMetricsEndpoint(t *testing.T) {
	svc := NewService(":0", runtime.NewServiceRegistry())

	rec := httptest.NewRecorder()
	svc.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestGoroutinez(t *testing.T) {
	svc := NewService(":0", runtime.NewServiceRegistry())

	rec := httptest.NewRecorder()
	svc.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/goroutinez", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "goroutine")
}
