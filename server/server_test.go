package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubPoller struct {
	calls int
	err   error
}

func (p *stubPoller) CheckAll(context.Context) error {
	p.calls++
	return p.err
}

func newTestServer(poller *stubPoller) http.Handler {
	return New(poller, slog.New(slog.DiscardHandler)).Handler()
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&stubPoller{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
}

func TestHealthRejectsPost(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestServer(&stubPoller{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPollTriggersCheck(t *testing.T) {
	poller := &stubPoller{}
	rec := httptest.NewRecorder()
	newTestServer(poller).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pollz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, poller.calls)
}

func TestPollReportsFailure(t *testing.T) {
	poller := &stubPoller{err: errors.New("feed down")}
	rec := httptest.NewRecorder()
	newTestServer(poller).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/pollz", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPollRejectsGet(t *testing.T) {
	poller := &stubPoller{}
	rec := httptest.NewRecorder()
	newTestServer(poller).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pollz", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, 0, poller.calls)
}
