package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// serveLogged はhandlerをロギングミドルウェアで包んで1リクエスト処理し、出力されたログ1行を返す。
func serveLogged(t *testing.T, req *http.Request, handler http.HandlerFunc) map[string]any {
	t.Helper()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	NewLoggingMiddleware(logger)(handler).ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry
}

func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	entry := serveLogged(t, httptest.NewRequest(http.MethodGet, "/api/signatures", nil),
		func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"count":0}`))
		})

	if entry["msg"] != "http_request" {
		t.Errorf("msg = %v, want http_request", entry["msg"])
	}
	if entry["method"] != "GET" {
		t.Errorf("method = %v, want GET", entry["method"])
	}
	if entry["path"] != "/api/signatures" {
		t.Errorf("path = %v, want /api/signatures", entry["path"])
	}
	if entry["status"] != float64(200) {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if entry["bytes"] != float64(len(`{"count":0}`)) {
		t.Errorf("bytes = %v, want %d", entry["bytes"], len(`{"count":0}`))
	}
	if d, ok := entry["duration_ms"].(float64); !ok || d < 0 {
		t.Errorf("duration_ms = %v, want non-negative number", entry["duration_ms"])
	}
	if _, ok := entry["request_id"]; ok {
		t.Errorf("request_id should be absent without RequestID middleware")
	}
}

func TestLoggingMiddleware_AdminFlag(t *testing.T) {
	noop := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) }

	admin := httptest.NewRequest(http.MethodDelete, "/api/signatures", nil)
	admin = admin.WithContext(WithPrivilege(admin.Context(), true))
	if entry := serveLogged(t, admin, noop); entry["admin"] != true {
		t.Errorf("admin = %v, want true", entry["admin"])
	}

	plain := httptest.NewRequest(http.MethodGet, "/api/signatures", nil)
	if entry := serveLogged(t, plain, noop); entry["admin"] != nil {
		t.Errorf("admin should be absent for non-admin request, got %v", entry["admin"])
	}
}

func TestLoggingMiddleware_RequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := chimw.RequestID(NewLoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/signatures", nil)
	req.Header.Set(chimw.RequestIDHeader, "req-42")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v", err)
	}
	if entry["request_id"] != "req-42" {
		t.Errorf("request_id = %v, want req-42", entry["request_id"])
	}
}

// TestLoggingMiddleware_StatusAndLevel はステータスコードの記録と、4xxがWARN・5xxがERRORになることを検証する。
func TestLoggingMiddleware_StatusAndLevel(t *testing.T) {
	tests := []struct {
		status    int
		wantLevel string
	}{
		{http.StatusOK, "INFO"},
		{http.StatusCreated, "INFO"},
		{http.StatusBadRequest, "WARN"},
		{http.StatusConflict, "WARN"},
		{http.StatusTooManyRequests, "WARN"},
		{http.StatusInternalServerError, "ERROR"},
		{http.StatusServiceUnavailable, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			entry := serveLogged(t, httptest.NewRequest(http.MethodPost, "/api/signatures", nil),
				func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(tt.status)
				})

			if entry["status"] != float64(tt.status) {
				t.Errorf("status = %v, want %d", entry["status"], tt.status)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
		})
	}
}

func TestStatusRecorder_FirstHeaderWins(t *testing.T) {
	rec := newStatusRecorder(httptest.NewRecorder())

	if rec.Status() != http.StatusOK {
		t.Errorf("initial Status() = %d, want 200", rec.Status())
	}

	rec.WriteHeader(http.StatusConflict)
	rec.WriteHeader(http.StatusOK)
	rec.Write([]byte("abc"))

	if rec.Status() != http.StatusConflict {
		t.Errorf("Status() = %d, want %d", rec.Status(), http.StatusConflict)
	}
	if rec.bytes != 3 {
		t.Errorf("bytes = %d, want 3", rec.bytes)
	}
}

type fakeStatusRecorder struct {
	statuses []int
}

func (f *fakeStatusRecorder) RecordHTTPStatus(statusCode int) {
	f.statuses = append(f.statuses, statusCode)
}

func TestMetricsMiddleware_RecordsStatus(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    int
	}{
		{"explicit", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusConflict) }, http.StatusConflict},
		{"implicit ok", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) }, http.StatusOK},
		{"nothing written", func(w http.ResponseWriter, r *http.Request) {}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeStatusRecorder{}
			NewMetricsMiddleware(rec)(tt.handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/signatures", nil))

			if len(rec.statuses) != 1 || rec.statuses[0] != tt.want {
				t.Errorf("statuses = %v, want [%d]", rec.statuses, tt.want)
			}
		})
	}
}
