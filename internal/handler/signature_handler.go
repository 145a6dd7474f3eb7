package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/presenze/internal/export"
	"github.com/hitoshi/presenze/internal/middleware"
	"github.com/hitoshi/presenze/internal/model"
	"github.com/hitoshi/presenze/internal/sorter"
)

// insertionOrder は並び替えを行わず登録順で返すためのorderクエリ値。
// 別インスタンスのremote.Clientが台帳を読み込む際に使用する。
const insertionOrder = "insertion"

// LedgerService は署名ハンドラーが必要とする台帳のインターフェース。
type LedgerService interface {
	// Insert は署名を検証し、重複がなければ登録する。
	Insert(ctx context.Context, firstName, lastName, email string) (model.Signature, error)
	// List は登録順の署名一覧を返す。
	List() []model.Signature
	// Reset は全署名を削除する。privilegedがfalseの場合は拒否される。
	Reset(ctx context.Context, privileged bool) error
}

// ExportRecorder はエクスポート結果を記録するインターフェース。
type ExportRecorder interface {
	RecordExport(result string)
}

// SignatureHandlerConfig は署名ハンドラーの設定。
type SignatureHandlerConfig struct {
	NoticeTTL time.Duration    // 成功通知の表示期間
	Now       func() time.Time // 現在時刻（テスト用に差し替え可能）
}

// SignatureHandler は署名台帳のHTTPハンドラー。
type SignatureHandler struct {
	service  LedgerService
	config   SignatureHandlerConfig
	recorder ExportRecorder
}

// NewSignatureHandler はSignatureHandlerを生成する。recorderはnilでもよい。
func NewSignatureHandler(service LedgerService, config SignatureHandlerConfig, recorder ExportRecorder) *SignatureHandler {
	if config.Now == nil {
		config.Now = time.Now
	}
	return &SignatureHandler{
		service:  service,
		config:   config,
		recorder: recorder,
	}
}

// createSignatureRequest は署名登録リクエストのボディ。
type createSignatureRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// signatureResponse は署名のAPIレスポンス。
type signatureResponse struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Timestamp string `json:"timestamp"`
}

// noticeResponse は期限付き通知のAPIレスポンス。
type noticeResponse struct {
	Kind      string    `json:"kind"`
	Text      string    `json:"text"`
	ExpiresAt time.Time `json:"expires_at"`
}

// createSignatureResponse は署名登録成功時のレスポンス。
type createSignatureResponse struct {
	Signature signatureResponse `json:"signature"`
	Notice    noticeResponse    `json:"notice"`
}

// listSignaturesResponse は署名一覧のレスポンス。
// Nextは各列見出しを選択したときの次の並び方向。
type listSignaturesResponse struct {
	Count      int                 `json:"count"`
	Title      string              `json:"title"`
	Sort       string              `json:"sort,omitempty"`
	Direction  string              `json:"direction,omitempty"`
	Next       map[string]string   `json:"next,omitempty"`
	Signatures []signatureResponse `json:"signatures"`
}

// duplicateErrorResponse は重複署名エラーのレスポンス。既存レコードを含む。
type duplicateErrorResponse struct {
	middleware.ErrorResponseBody
	Existing *signatureResponse `json:"existing,omitempty"`
}

// ListSignatures は署名一覧を返す。
// GET /api/signatures?sort=&direction=
func (h *SignatureHandler) ListSignatures(w http.ResponseWriter, r *http.Request) {
	records := h.service.List()

	resp := listSignaturesResponse{
		Count: len(records),
		Title: fmt.Sprintf("Elenco Presenti (%d)", len(records)),
	}

	if r.URL.Query().Get("order") != insertionOrder {
		key, dir := parseOrdering(r)
		records = sorter.Order(records, key, dir)

		resp.Sort = string(key)
		resp.Direction = string(dir)
		resp.Next = make(map[string]string, 4)
		for _, k := range []sorter.Key{sorter.KeyLastName, sorter.KeyFirstName, sorter.KeyEmail, sorter.KeyTimestamp} {
			_, next := sorter.Toggle(key, dir, k)
			resp.Next[string(k)] = string(next)
		}
	}

	resp.Signatures = make([]signatureResponse, len(records))
	for i, s := range records {
		resp.Signatures[i] = toSignatureResponse(s)
	}

	writeJSON(w, http.StatusOK, resp)
}

// CreateSignature は署名を登録する。
// POST /api/signatures
func (h *SignatureHandler) CreateSignature(w http.ResponseWriter, r *http.Request) {
	var req createSignatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "Impossibile leggere i dati inviati.",
			Category: "validation",
			Action:   "Invia il modulo in formato JSON.",
		})
		return
	}

	sig, err := h.service.Insert(r.Context(), req.FirstName, req.LastName, req.Email)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	notice := model.NewSignedNotice(sig, h.config.Now(), h.config.NoticeTTL)

	writeJSON(w, http.StatusCreated, createSignatureResponse{
		Signature: toSignatureResponse(sig),
		Notice: noticeResponse{
			Kind:      string(notice.Kind),
			Text:      notice.Text,
			ExpiresAt: notice.ExpiresAt,
		},
	})
}

// ResetSignatures は全署名を削除する。
// DELETE /api/signatures（管理者のみ）
func (h *SignatureHandler) ResetSignatures(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Reset(r.Context(), middleware.IsPrivileged(r.Context())); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ExportSignatures は並び替えた署名一覧をCSVとしてダウンロードさせる。
// GET /api/signatures/export?sort=&direction=&allow_empty=（管理者のみ）
func (h *SignatureHandler) ExportSignatures(w http.ResponseWriter, r *http.Request) {
	key, dir := parseOrdering(r)
	allowEmpty, _ := strconv.ParseBool(r.URL.Query().Get("allow_empty"))

	records := sorter.Order(h.service.List(), key, dir)

	var buf bytes.Buffer
	if err := export.Write(&buf, records, allowEmpty); err != nil {
		if errors.Is(err, export.ErrEmptyExport) {
			h.recordExport("empty")
			writeAPIErrorResponse(w, http.StatusUnprocessableEntity, model.NewEmptyExportError())
			return
		}
		h.recordExport("error")
		handleServiceError(w, err)
		return
	}

	h.recordExport("ok")
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.FileName(h.config.Now())))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (h *SignatureHandler) recordExport(result string) {
	if h.recorder != nil {
		h.recorder.RecordExport(result)
	}
}

// --- ヘルパー関数 ---

// parseOrdering はsort/directionクエリを解析する。不正な値はデフォルトに戻す。
func parseOrdering(r *http.Request) (sorter.Key, sorter.Direction) {
	key, ok := sorter.ParseKey(r.URL.Query().Get("sort"))
	if !ok {
		key = sorter.DefaultKey
	}
	dir, ok := sorter.ParseDirection(r.URL.Query().Get("direction"))
	if !ok {
		dir = sorter.DefaultDirection
	}
	return key, dir
}

// toSignatureResponse はmodel.SignatureからAPIレスポンスに変換する。
func toSignatureResponse(s model.Signature) signatureResponse {
	return signatureResponse{
		FirstName: s.FirstName,
		LastName:  s.LastName,
		Email:     s.Email,
		Timestamp: s.Timestamp,
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSON(w, statusCode, middleware.NewErrorResponseBody(apiErr))
}

// handleServiceError は台帳から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var dupErr *model.DuplicateEmailError
	if errors.As(err, &dupErr) {
		resp := duplicateErrorResponse{ErrorResponseBody: middleware.NewErrorResponseBody(dupErr.APIError())}
		if dupErr.Existing.Email != "" {
			existing := toSignatureResponse(dupErr.Existing)
			resp.Existing = &existing
		}
		writeJSON(w, http.StatusConflict, resp)
		return
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeMissingField, model.ErrCodeInvalidNameFormat,
		model.ErrCodeInvalidEmailDomain, model.ErrCodeNotInRoster:
		return http.StatusBadRequest
	case model.ErrCodeDuplicateEmail, model.ErrCodeConflict:
		return http.StatusConflict
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeEmptyExport:
		return http.StatusUnprocessableEntity
	case model.ErrCodeStorageUnavailable, model.ErrCodeNetworkError:
		return http.StatusServiceUnavailable
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
