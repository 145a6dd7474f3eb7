// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, ledger, storage, auth, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeMissingField       = "MISSING_FIELD"
	ErrCodeInvalidNameFormat  = "INVALID_NAME_FORMAT"
	ErrCodeInvalidEmailDomain = "INVALID_EMAIL_DOMAIN"
	ErrCodeNotInRoster        = "NOT_IN_ROSTER"
	ErrCodeDuplicateEmail     = "DUPLICATE_EMAIL"
	ErrCodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	ErrCodeNetworkError       = "NETWORK_ERROR"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeEmptyExport        = "EMPTY_EXPORT"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// フィールド名（MissingFieldエラーで使用）
const (
	FieldFirstName = "firstName"
	FieldLastName  = "lastName"
	FieldEmail     = "email"
)

// HasCode はerrがAPIErrorであり、指定コードを持つかどうかを返す。
// DuplicateEmailErrorはErrCodeDuplicateEmailとして扱う。
func HasCode(err error, code string) bool {
	var dupErr *DuplicateEmailError
	if errors.As(err, &dupErr) {
		return code == ErrCodeDuplicateEmail
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewMissingFieldError は必須項目未入力エラーを生成する。
func NewMissingFieldError(field string) *APIError {
	msg := "I campi 'Nome' e 'Cognome' sono obbligatori."
	if field == FieldEmail {
		msg = "Il campo 'Indirizzo Email' è obbligatorio."
	}
	return &APIError{
		Code:     ErrCodeMissingField,
		Message:  msg,
		Category: "validation",
		Action:   "Compila tutti i campi del modulo.",
	}
}

// NewInvalidNameFormatError は氏名の文字種エラーを生成する。
func NewInvalidNameFormatError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidNameFormat,
		Message:  "I campi 'Nome' e 'Cognome' possono contenere solo lettere, spazi e apostrofi.",
		Category: "validation",
		Action:   "Rimuovi numeri e simboli dal nome e dal cognome.",
	}
}

// NewInvalidEmailDomainError は所属機関ドメイン以外のメールアドレスのエラーを生成する。
func NewInvalidEmailDomainError(domain string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmailDomain,
		Message:  fmt.Sprintf("L'indirizzo email non è valido. Deve terminare con %s", domain),
		Category: "validation",
		Action:   fmt.Sprintf("Utilizzare solo l'email con dominio %s", domain),
	}
}

// NewNotInRosterError は名簿に存在しないメールアドレスのエラーを生成する。
func NewNotInRosterError() *APIError {
	return &APIError{
		Code:     ErrCodeNotInRoster,
		Message:  "L'indirizzo email non risulta nell'elenco dei docenti.",
		Category: "validation",
		Action:   "Verifica l'indirizzo o contatta la segreteria.",
	}
}

// NewStorageUnavailableError は永続化層の一時的な障害エラーを生成する。
func NewStorageUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeStorageUnavailable,
		Message:  "Impossibile salvare la tua firma. Riprova.",
		Category: "storage",
		Action:   "Attendi qualche istante e riprova.",
	}
}

// NewLoadUnavailableError は保存済み署名の読み込み失敗エラーを生成する。
func NewLoadUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeStorageUnavailable,
		Message:  "Impossibile caricare le firme salvate.",
		Category: "storage",
		Action:   "Attendi qualche istante e ricarica la pagina.",
	}
}

// NewNetworkError はリモート署名サービスとの通信エラーを生成する。
func NewNetworkError() *APIError {
	return &APIError{
		Code:     ErrCodeNetworkError,
		Message:  "Impossibile contattare il servizio delle firme.",
		Category: "storage",
		Action:   "Controlla la connessione e riprova.",
	}
}

// NewConflictError は永続化層で一意制約違反が発生したが既存レコードを特定できない場合のエラーを生成する。
func NewConflictError() *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  "Questo indirizzo email risulta già utilizzato.",
		Category: "ledger",
		Action:   "Ogni docente può firmare una sola volta.",
	}
}

// NewEmptyExportError はエクスポート対象の署名が0件の場合のエラーを生成する。
func NewEmptyExportError() *APIError {
	return &APIError{
		Code:     ErrCodeEmptyExport,
		Message:  "Nessuna firma da esportare.",
		Category: "ledger",
		Action:   "Attendi che almeno un docente abbia firmato.",
	}
}

// NewForbiddenError は管理者権限が必要な操作のエラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "Operazione riservata agli amministratori.",
		Category: "auth",
		Action:   "Accedi in modalità amministratore.",
	}
}

// NewRateLimitedError はリクエスト過多のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Troppe richieste. Riprova tra poco.",
		Category: "system",
		Action:   "Attendi il tempo indicato e riprova.",
	}
}

// NewInternalError は内部サーバーエラーを生成する。詳細はユーザーに返さない。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Si è verificato un errore interno.",
		Category: "system",
		Action:   "Attendi qualche istante e riprova.",
	}
}

// DuplicateEmailError は同一メールアドレスで既に署名済みであることを表す。
// 呼び出し元が「XがY日に使用済み」と表示できるよう既存レコードを保持する。
type DuplicateEmailError struct {
	Existing Signature
}

// Error はerrorインターフェースを実装する。
func (e *DuplicateEmailError) Error() string {
	return e.APIError().Error()
}

// APIError は統一エラーフォーマットに変換する。
func (e *DuplicateEmailError) APIError() *APIError {
	// 既存レコードの氏名が不明な場合（永続化層が重複のみを通知した場合）
	if e.Existing.FirstName == "" && e.Existing.LastName == "" {
		return &APIError{
			Code:     ErrCodeDuplicateEmail,
			Message:  "Questo indirizzo email risulta già utilizzato. Ogni docente può firmare una sola volta.",
			Category: "ledger",
			Action:   "Ogni docente può firmare una sola volta.",
		}
	}
	return &APIError{
		Code: ErrCodeDuplicateEmail,
		Message: fmt.Sprintf(
			"Questo indirizzo email risulta già utilizzato da %s %s in data %s. Ogni docente può firmare una sola volta.",
			e.Existing.LastName, e.Existing.FirstName, e.Existing.Timestamp,
		),
		Category: "ledger",
		Action:   "Ogni docente può firmare una sola volta.",
	}
}
