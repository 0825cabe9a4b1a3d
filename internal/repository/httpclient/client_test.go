package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/rx-portal/internal/model"
	"github.com/jwalitptl/rx-portal/pkg/circuitbreaker"
	apperrors "github.com/jwalitptl/rx-portal/pkg/errors"
	"github.com/jwalitptl/rx-portal/pkg/httputil"
	"github.com/jwalitptl/rx-portal/pkg/logger"
)

func writeJSON(w http.ResponseWriter, status int, body httputil.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, httputil.Response{Error: &httputil.Error{Code: status, Message: msg}})
}

func newServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL+"/api/v1/", time.Second)
}

func TestGetAllSendsFilters(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/prescriptions", r.URL.Path)
		assert.Equal(t, "sarah j", r.URL.Query().Get("search"))
		assert.Equal(t, "active", r.URL.Query().Get("status"))
		writeJSON(w, http.StatusOK, httputil.Response{Success: true, Data: []model.Prescription{
			{ID: "1", MedicationName: "Lisinopril", Status: model.PrescriptionStatusActive},
		}})
	})

	got, err := client.GetAll(context.Background(), &model.PrescriptionListFilters{
		Search: "sarah j",
		Status: model.PrescriptionStatusActive,
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Lisinopril", got[0].MedicationName)
}

func TestGetAllEmptyList(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.RawQuery)
		writeJSON(w, http.StatusOK, httputil.Response{Success: true, Data: []model.Prescription{}})
	})

	got, err := client.GetAll(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestGetByIDNotFoundIsNil(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/prescriptions/nonexistent", r.URL.Path)
		fail(w, http.StatusNotFound, "prescription not found")
	})

	p, err := client.GetByID(context.Background(), "nonexistent")
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestGetByIDUnknownRouteIsNotNil(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"api no route", func(w http.ResponseWriter, r *http.Request) {
			fail(w, http.StatusNotFound, httputil.MsgRouteNotFound)
		}},
		{"plain 404", http.NotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newServer(t, tc.handler)
			p, err := client.GetByID(context.Background(), "1")
			assert.Nil(t, p)
			require.Error(t, err)
			assert.Equal(t, apperrors.ErrInternal, apperrors.CodeOf(err))
			assert.ErrorContains(t, err, "unexpected API route")
		})
	}
}

func TestGetByIDForwardsRequestID(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "req-7", r.Header.Get("X-Request-ID"))
		writeJSON(w, http.StatusOK, httputil.Response{Success: true, Data: model.Prescription{ID: "2"}})
	})

	ctx := context.WithValue(context.Background(), logger.RequestIDKey, "req-7")
	p, err := client.GetByID(ctx, "2")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "2", p.ID)
}

func TestRequestRefillStatusMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		code   apperrors.ErrorCode
	}{
		{"not found", http.StatusNotFound, apperrors.ErrNotFound},
		{"conflict", http.StatusConflict, apperrors.ErrConflict},
		{"server error", http.StatusInternalServerError, apperrors.ErrInternal},
		{"unavailable", http.StatusServiceUnavailable, apperrors.ErrUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/api/v1/prescriptions/1/refill", r.URL.Path)
				fail(w, tc.status, "nope")
			})

			err := client.RequestRefill(context.Background(), "1")
			require.Error(t, err)
			assert.Equal(t, tc.code, apperrors.CodeOf(err))
		})
	}
}

func TestRequestRefillSuccess(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, httputil.Response{Success: true, Data: model.RefillResponse{
			ID: "1", Status: model.PrescriptionStatusRefillRequested,
		}})
	})
	assert.NoError(t, client.RequestRefill(context.Background(), "1"))
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client := New(url, time.Second)
	_, err := client.GetAll(context.Background(), nil)
	assert.Equal(t, apperrors.ErrUnavailable, apperrors.CodeOf(err))
}

func TestMalformedBodyIsInternal(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>"))
	})
	_, err := client.GetAll(context.Background(), nil)
	assert.Equal(t, apperrors.ErrInternal, apperrors.CodeOf(err))
}

func TestBreakerOpensOnRepeatedFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		fail(w, http.StatusServiceUnavailable, "down")
	}))
	t.Cleanup(srv.Close)

	cb := circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
		MaxFailures: 2,
		Timeout:     time.Minute,
	})
	client := New(srv.URL, time.Second, WithBreaker(cb))

	for i := 0; i < 4; i++ {
		_, err := client.GetAll(context.Background(), nil)
		assert.Equal(t, apperrors.ErrUnavailable, apperrors.CodeOf(err))
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Equal(t, circuitbreaker.StateOpen, cb.State())
}

func TestNotFoundDoesNotTripBreaker(t *testing.T) {
	client := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		fail(w, http.StatusNotFound, "missing")
	})
	for i := 0; i < 10; i++ {
		p, err := client.GetByID(context.Background(), "x")
		require.NoError(t, err)
		assert.Nil(t, p)
	}
	assert.Equal(t, circuitbreaker.StateClosed, client.cb.State())
}
