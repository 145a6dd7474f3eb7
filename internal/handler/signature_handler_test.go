package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/presenze/internal/middleware"
	"github.com/hitoshi/presenze/internal/model"
)

// --- モック定義 ---

// mockLedger はLedgerServiceのモック実装。
type mockLedger struct {
	insertFn func(ctx context.Context, firstName, lastName, email string) (model.Signature, error)
	listFn   func() []model.Signature
	resetFn  func(ctx context.Context, privileged bool) error
}

func (m *mockLedger) Insert(ctx context.Context, firstName, lastName, email string) (model.Signature, error) {
	if m.insertFn != nil {
		return m.insertFn(ctx, firstName, lastName, email)
	}
	return model.Signature{}, nil
}

func (m *mockLedger) List() []model.Signature {
	if m.listFn != nil {
		return m.listFn()
	}
	return nil
}

func (m *mockLedger) Reset(ctx context.Context, privileged bool) error {
	if m.resetFn != nil {
		return m.resetFn(ctx, privileged)
	}
	return nil
}

// mockExportRecorder はExportRecorderのモック実装。
type mockExportRecorder struct {
	results []string
}

func (m *mockExportRecorder) RecordExport(result string) {
	m.results = append(m.results, result)
}

// --- テストヘルパー ---

var fixedNow = time.Date(2026, 10, 17, 8, 30, 0, 0, time.UTC)

func testConfig() SignatureHandlerConfig {
	return SignatureHandlerConfig{
		NoticeTTL: 5 * time.Second,
		Now:       func() time.Time { return fixedNow },
	}
}

func sampleSignatures() []model.Signature {
	return []model.Signature{
		{FirstName: "Mario", LastName: "Rossi", Email: "mario.rossi@cine-tv.edu.it", Timestamp: "17/10/26, 10:00:00"},
		{FirstName: "Anna", LastName: "Bianchi", Email: "anna.bianchi@cine-tv.edu.it", Timestamp: "17/10/26, 10:01:00"},
		{FirstName: "Luca", LastName: "Bianchi", Email: "luca.bianchi@cine-tv.edu.it", Timestamp: "17/10/26, 10:02:00"},
	}
}

// withPrivilege はテスト用にリクエストコンテキストに管理者フラグを注入するヘルパー。
func withPrivilege(r *http.Request) *http.Request {
	return r.WithContext(middleware.WithPrivilege(r.Context(), true))
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

func decodeList(t *testing.T, w *httptest.ResponseRecorder) listSignaturesResponse {
	t.Helper()
	var resp listSignaturesResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode list response: %v", err)
	}
	return resp
}

// --- GET /api/signatures テスト ---

func TestSignatureHandler_List_DefaultOrder(t *testing.T) {
	h := NewSignatureHandler(&mockLedger{listFn: sampleSignatures}, testConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/signatures", nil)
	w := httptest.NewRecorder()

	h.ListSignatures(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decodeList(t, w)
	if resp.Count != 3 {
		t.Errorf("count = %d, want 3", resp.Count)
	}
	if resp.Title != "Elenco Presenti (3)" {
		t.Errorf("title = %q, want %q", resp.Title, "Elenco Presenti (3)")
	}
	if resp.Sort != "lastName" || resp.Direction != "ascending" {
		t.Errorf("sort/direction = %s/%s, want lastName/ascending", resp.Sort, resp.Direction)
	}

	// 姓の昇順、同姓は名の昇順
	want := []string{"Anna", "Luca", "Mario"}
	for i, name := range want {
		if resp.Signatures[i].FirstName != name {
			t.Errorf("signatures[%d].first_name = %q, want %q", i, resp.Signatures[i].FirstName, name)
		}
	}

	// 現在のキーは降順へ、その他のキーは昇順へ切り替わる
	if resp.Next["lastName"] != "descending" {
		t.Errorf("next[lastName] = %q, want descending", resp.Next["lastName"])
	}
	if resp.Next["email"] != "ascending" {
		t.Errorf("next[email] = %q, want ascending", resp.Next["email"])
	}
}

func TestSignatureHandler_List_CustomOrder(t *testing.T) {
	h := NewSignatureHandler(&mockLedger{listFn: sampleSignatures}, testConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/signatures?sort=email&direction=desc", nil)
	w := httptest.NewRecorder()

	h.ListSignatures(w, req)

	resp := decodeList(t, w)
	if resp.Sort != "email" || resp.Direction != "descending" {
		t.Errorf("sort/direction = %s/%s, want email/descending", resp.Sort, resp.Direction)
	}
	if resp.Signatures[0].Email != "mario.rossi@cine-tv.edu.it" {
		t.Errorf("first email = %q, want mario.rossi@cine-tv.edu.it", resp.Signatures[0].Email)
	}
	if resp.Next["email"] != "ascending" {
		t.Errorf("next[email] = %q, want ascending", resp.Next["email"])
	}
}

func TestSignatureHandler_List_InvalidOrderFallsBackToDefault(t *testing.T) {
	h := NewSignatureHandler(&mockLedger{listFn: sampleSignatures}, testConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/signatures?sort=age&direction=sideways", nil)
	w := httptest.NewRecorder()

	h.ListSignatures(w, req)

	resp := decodeList(t, w)
	if resp.Sort != "lastName" || resp.Direction != "ascending" {
		t.Errorf("sort/direction = %s/%s, want lastName/ascending", resp.Sort, resp.Direction)
	}
}

func TestSignatureHandler_List_InsertionOrder(t *testing.T) {
	h := NewSignatureHandler(&mockLedger{listFn: sampleSignatures}, testConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/signatures?order=insertion", nil)
	w := httptest.NewRecorder()

	h.ListSignatures(w, req)

	resp := decodeList(t, w)
	if resp.Sort != "" || resp.Next != nil {
		t.Errorf("sort = %q, next = %v, want empty for insertion order", resp.Sort, resp.Next)
	}
	if resp.Signatures[0].LastName != "Rossi" {
		t.Errorf("first last_name = %q, want Rossi (insertion order)", resp.Signatures[0].LastName)
	}
}

func TestSignatureHandler_List_Empty(t *testing.T) {
	h := NewSignatureHandler(&mockLedger{}, testConfig(), nil)

	w := httptest.NewRecorder()
	h.ListSignatures(w, httptest.NewRequest(http.MethodGet, "/api/signatures", nil))

	resp := decodeList(t, w)
	if resp.Count != 0 || resp.Signatures == nil || len(resp.Signatures) != 0 {
		t.Errorf("count = %d, signatures = %v, want empty array", resp.Count, resp.Signatures)
	}
	if resp.Title != "Elenco Presenti (0)" {
		t.Errorf("title = %q, want %q", resp.Title, "Elenco Presenti (0)")
	}
}

// --- POST /api/signatures テスト ---

func TestSignatureHandler_Create_Success(t *testing.T) {
	ledger := &mockLedger{
		insertFn: func(ctx context.Context, firstName, lastName, email string) (model.Signature, error) {
			if firstName != "Mario" || lastName != "Rossi" || email != "Mario.Rossi@cine-tv.edu.it" {
				t.Errorf("Insert args = %q %q %q", firstName, lastName, email)
			}
			return model.Signature{
				FirstName: "Mario",
				LastName:  "Rossi",
				Email:     "mario.rossi@cine-tv.edu.it",
				Timestamp: "17/10/26, 10:30:00",
			}, nil
		},
	}
	h := NewSignatureHandler(ledger, testConfig(), nil)

	body := `{"first_name": "Mario", "last_name": "Rossi", "email": "Mario.Rossi@cine-tv.edu.it"}`
	req := httptest.NewRequest(http.MethodPost, "/api/signatures", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.CreateSignature(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}

	var resp createSignatureResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.Signature.Email != "mario.rossi@cine-tv.edu.it" {
		t.Errorf("email = %q, want normalized", resp.Signature.Email)
	}
	if resp.Notice.Kind != "success" {
		t.Errorf("notice.kind = %q, want success", resp.Notice.Kind)
	}
	wantText := "Grazie, Mario Rossi. La tua presenza è stata registrata con successo."
	if resp.Notice.Text != wantText {
		t.Errorf("notice.text = %q, want %q", resp.Notice.Text, wantText)
	}
	if !resp.Notice.ExpiresAt.Equal(fixedNow.Add(5 * time.Second)) {
		t.Errorf("notice.expires_at = %v, want %v", resp.Notice.ExpiresAt, fixedNow.Add(5*time.Second))
	}
}

func TestSignatureHandler_Create_InvalidJSON(t *testing.T) {
	h := NewSignatureHandler(&mockLedger{
		insertFn: func(ctx context.Context, firstName, lastName, email string) (model.Signature, error) {
			t.Fatal("Insert should not be called")
			return model.Signature{}, nil
		},
	}, testConfig(), nil)

	req := httptest.NewRequest(http.MethodPost, "/api/signatures", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()

	h.CreateSignature(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != "INVALID_REQUEST" {
		t.Errorf("code = %v, want INVALID_REQUEST", body["code"])
	}
}

func TestSignatureHandler_Create_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"missing field", model.NewMissingFieldError(model.FieldFirstName), http.StatusBadRequest, model.ErrCodeMissingField},
		{"invalid name", model.NewInvalidNameFormatError(), http.StatusBadRequest, model.ErrCodeInvalidNameFormat},
		{"invalid domain", model.NewInvalidEmailDomainError("@cine-tv.edu.it"), http.StatusBadRequest, model.ErrCodeInvalidEmailDomain},
		{"not in roster", model.NewNotInRosterError(), http.StatusBadRequest, model.ErrCodeNotInRoster},
		{"conflict", model.NewConflictError(), http.StatusConflict, model.ErrCodeConflict},
		{"storage unavailable", model.NewStorageUnavailableError(), http.StatusServiceUnavailable, model.ErrCodeStorageUnavailable},
		{"network", model.NewNetworkError(), http.StatusServiceUnavailable, model.ErrCodeNetworkError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSignatureHandler(&mockLedger{
				insertFn: func(ctx context.Context, firstName, lastName, email string) (model.Signature, error) {
					return model.Signature{}, tt.err
				},
			}, testConfig(), nil)

			body := `{"first_name": "Mario", "last_name": "Rossi", "email": "mario@cine-tv.edu.it"}`
			w := httptest.NewRecorder()
			h.CreateSignature(w, httptest.NewRequest(http.MethodPost, "/api/signatures", bytes.NewBufferString(body)))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := parseAPIErrorResponse(t, w)["code"]; got != tt.wantCode {
				t.Errorf("code = %v, want %s", got, tt.wantCode)
			}
		})
	}
}

func TestSignatureHandler_Create_Duplicate_IncludesExisting(t *testing.T) {
	existing := model.Signature{
		FirstName: "Mario",
		LastName:  "Rossi",
		Email:     "mario.rossi@cine-tv.edu.it",
		Timestamp: "17/10/26, 09:00:00",
	}
	h := NewSignatureHandler(&mockLedger{
		insertFn: func(ctx context.Context, firstName, lastName, email string) (model.Signature, error) {
			return model.Signature{}, &model.DuplicateEmailError{Existing: existing}
		},
	}, testConfig(), nil)

	body := `{"first_name": "Marco", "last_name": "Rossi", "email": "MARIO.ROSSI@cine-tv.edu.it"}`
	w := httptest.NewRecorder()
	h.CreateSignature(w, httptest.NewRequest(http.MethodPost, "/api/signatures", bytes.NewBufferString(body)))

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}

	var resp duplicateErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.Code != model.ErrCodeDuplicateEmail {
		t.Errorf("code = %q, want %q", resp.Code, model.ErrCodeDuplicateEmail)
	}
	wantMsg := "Questo indirizzo email risulta già utilizzato da Rossi Mario in data 17/10/26, 09:00:00. Ogni docente può firmare una sola volta."
	if resp.Message != wantMsg {
		t.Errorf("message = %q, want %q", resp.Message, wantMsg)
	}
	if resp.Existing == nil || resp.Existing.Timestamp != "17/10/26, 09:00:00" {
		t.Errorf("existing = %+v, want existing record", resp.Existing)
	}
}

func TestSignatureHandler_Create_DuplicateWithoutRecord_OmitsExisting(t *testing.T) {
	h := NewSignatureHandler(&mockLedger{
		insertFn: func(ctx context.Context, firstName, lastName, email string) (model.Signature, error) {
			return model.Signature{}, &model.DuplicateEmailError{}
		},
	}, testConfig(), nil)

	body := `{"first_name": "Mario", "last_name": "Rossi", "email": "mario@cine-tv.edu.it"}`
	w := httptest.NewRecorder()
	h.CreateSignature(w, httptest.NewRequest(http.MethodPost, "/api/signatures", bytes.NewBufferString(body)))

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	body2 := parseAPIErrorResponse(t, w)
	if _, ok := body2["existing"]; ok {
		t.Errorf("existing should be omitted, got %v", body2["existing"])
	}
}

// --- DELETE /api/signatures テスト ---

func TestSignatureHandler_Reset_PassesPrivilege(t *testing.T) {
	var gotPrivileged bool
	h := NewSignatureHandler(&mockLedger{
		resetFn: func(ctx context.Context, privileged bool) error {
			gotPrivileged = privileged
			return nil
		},
	}, testConfig(), nil)

	req := withPrivilege(httptest.NewRequest(http.MethodDelete, "/api/signatures", nil))
	w := httptest.NewRecorder()

	h.ResetSignatures(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if !gotPrivileged {
		t.Error("expected privileged=true to be passed to Reset")
	}
}

func TestSignatureHandler_Reset_Forbidden(t *testing.T) {
	h := NewSignatureHandler(&mockLedger{
		resetFn: func(ctx context.Context, privileged bool) error {
			if privileged {
				t.Error("expected privileged=false")
			}
			return model.NewForbiddenError()
		},
	}, testConfig(), nil)

	w := httptest.NewRecorder()
	h.ResetSignatures(w, httptest.NewRequest(http.MethodDelete, "/api/signatures", nil))

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestSignatureHandler_Reset_StorageFailure(t *testing.T) {
	h := NewSignatureHandler(&mockLedger{
		resetFn: func(ctx context.Context, privileged bool) error {
			return model.NewStorageUnavailableError()
		},
	}, testConfig(), nil)

	w := httptest.NewRecorder()
	h.ResetSignatures(w, withPrivilege(httptest.NewRequest(http.MethodDelete, "/api/signatures", nil)))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// --- GET /api/signatures/export テスト ---

func TestSignatureHandler_Export_WritesCSVAttachment(t *testing.T) {
	rec := &mockExportRecorder{}
	h := NewSignatureHandler(&mockLedger{
		listFn: func() []model.Signature {
			return []model.Signature{
				{FirstName: "Sean", LastName: `O"Brien`, Email: "sean@cine-tv.edu.it", Timestamp: "17/10/26, 10:00:00"},
				{FirstName: "Anna", LastName: "Bianchi", Email: "anna@cine-tv.edu.it", Timestamp: "17/10/26, 10:01:00"},
			}
		},
	}, testConfig(), rec)

	w := httptest.NewRecorder()
	h.ExportSignatures(w, httptest.NewRequest(http.MethodGet, "/api/signatures/export", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	wantDisposition := `attachment; filename="firme_collegio_docenti_2026-10-17.csv"`
	if cd := w.Header().Get("Content-Disposition"); cd != wantDisposition {
		t.Errorf("Content-Disposition = %q, want %q", cd, wantDisposition)
	}

	want := `"Cognome","Nome","Email","Data e Ora della Firma"` + "\n" +
		`"Bianchi","Anna","anna@cine-tv.edu.it","17/10/26, 10:01:00"` + "\n" +
		`"O""Brien","Sean","sean@cine-tv.edu.it","17/10/26, 10:00:00"`
	if got := w.Body.String(); got != want {
		t.Errorf("body =\n%s\nwant\n%s", got, want)
	}

	if len(rec.results) != 1 || rec.results[0] != "ok" {
		t.Errorf("recorded = %v, want [ok]", rec.results)
	}
}

func TestSignatureHandler_Export_Empty_Returns422(t *testing.T) {
	rec := &mockExportRecorder{}
	h := NewSignatureHandler(&mockLedger{}, testConfig(), rec)

	w := httptest.NewRecorder()
	h.ExportSignatures(w, httptest.NewRequest(http.MethodGet, "/api/signatures/export", nil))

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
	if got := parseAPIErrorResponse(t, w)["code"]; got != model.ErrCodeEmptyExport {
		t.Errorf("code = %v, want %s", got, model.ErrCodeEmptyExport)
	}
	if len(rec.results) != 1 || rec.results[0] != "empty" {
		t.Errorf("recorded = %v, want [empty]", rec.results)
	}
}

func TestSignatureHandler_Export_EmptyAllowed_WritesHeaderOnly(t *testing.T) {
	h := NewSignatureHandler(&mockLedger{}, testConfig(), nil)

	w := httptest.NewRecorder()
	h.ExportSignatures(w, httptest.NewRequest(http.MethodGet, "/api/signatures/export?allow_empty=true", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	want := `"Cognome","Nome","Email","Data e Ora della Firma"`
	if got := w.Body.String(); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
}

func TestSignatureHandler_Export_RespectsOrdering(t *testing.T) {
	h := NewSignatureHandler(&mockLedger{listFn: sampleSignatures}, testConfig(), nil)

	w := httptest.NewRecorder()
	h.ExportSignatures(w, httptest.NewRequest(http.MethodGet, "/api/signatures/export?sort=lastName&direction=descending", nil))

	want := `"Cognome","Nome","Email","Data e Ora della Firma"` + "\n" +
		`"Rossi","Mario","mario.rossi@cine-tv.edu.it","17/10/26, 10:00:00"` + "\n" +
		`"Bianchi","Anna","anna.bianchi@cine-tv.edu.it","17/10/26, 10:01:00"` + "\n" +
		`"Bianchi","Luca","luca.bianchi@cine-tv.edu.it","17/10/26, 10:02:00"`
	if got := w.Body.String(); got != want {
		t.Errorf("body =\n%s\nwant\n%s", got, want)
	}
}

// --- エラーマッピング ---

func TestMapAPIErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{model.ErrCodeMissingField, http.StatusBadRequest},
		{model.ErrCodeDuplicateEmail, http.StatusConflict},
		{model.ErrCodeForbidden, http.StatusForbidden},
		{model.ErrCodeEmptyExport, http.StatusUnprocessableEntity},
		{model.ErrCodeRateLimited, http.StatusTooManyRequests},
		{"SOMETHING_ELSE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if got := mapAPIErrorToHTTPStatus(&model.APIError{Code: tt.code}); got != tt.want {
				t.Errorf("mapAPIErrorToHTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
			}
		})
	}
}
