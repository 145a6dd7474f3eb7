package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/presenze/internal/model"
)

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) ErrorResponseBody {
	t.Helper()
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body
}

// TestWriteErrorResponse_LedgerErrors は台帳が返す各エラーがステータスコードとともに
// そのままJSONボディに反映されることを検証する。
func TestWriteErrorResponse_LedgerErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    *model.APIError
	}{
		{"missing field", http.StatusBadRequest, model.NewMissingFieldError("email")},
		{"name format", http.StatusBadRequest, model.NewInvalidNameFormatError()},
		{"email domain", http.StatusBadRequest, model.NewInvalidEmailDomainError("cine-tv.edu.it")},
		{"not in roster", http.StatusBadRequest, model.NewNotInRosterError()},
		{"forbidden", http.StatusForbidden, model.NewForbiddenError()},
		{"empty export", http.StatusUnprocessableEntity, model.NewEmptyExportError()},
		{"rate limited", http.StatusTooManyRequests, model.NewRateLimitedError()},
		{"storage", http.StatusServiceUnavailable, model.NewStorageUnavailableError()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteErrorResponse(w, tt.status, tt.err)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}

			body := decodeErrorBody(t, w)
			if body != NewErrorResponseBody(tt.err) {
				t.Errorf("body = %+v, want %+v", body, NewErrorResponseBody(tt.err))
			}
		})
	}
}

func TestNewErrorResponseBody_CopiesFields(t *testing.T) {
	got := NewErrorResponseBody(&model.APIError{
		Code:     "TEST_ERROR",
		Message:  "Messaggio di prova.",
		Category: "validation",
		Action:   "Correggi il valore inserito.",
	})

	want := ErrorResponseBody{
		Code:     "TEST_ERROR",
		Message:  "Messaggio di prova.",
		Category: "validation",
		Action:   "Correggi il valore inserito.",
	}
	if got != want {
		t.Errorf("NewErrorResponseBody = %+v, want %+v", got, want)
	}
}

// TestWriteInternalServerError は内部エラーの詳細を含まない汎用レスポンスを検証する。
func TestWriteInternalServerError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteInternalServerError(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	body := decodeErrorBody(t, w)
	if body.Code != model.ErrCodeInternal {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInternal)
	}
	if body.Category != "system" {
		t.Errorf("category = %q, want system", body.Category)
	}
	if body.Message == "" || body.Action == "" {
		t.Errorf("message/action should not be empty: %+v", body)
	}
}

func TestErrorResponseBody_JSONKeys(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorResponse(w, http.StatusConflict, model.NewConflictError())

	var raw map[string]any
	if err := json.NewDecoder(w.Result().Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(raw) != 4 {
		t.Errorf("keys = %v, want exactly code/message/category/action", raw)
	}
	for _, key := range []string{"code", "message", "category", "action"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q", key)
		}
	}
}
