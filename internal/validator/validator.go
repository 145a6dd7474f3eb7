// Package validator は署名入力（氏名・メールアドレス）の検証を提供する。
// すべての関数は副作用を持たず、同一入力に対して常に同一の結果を返す。
package validator

import (
	"regexp"
	"strings"

	"github.com/hitoshi/presenze/internal/model"
)

// DefaultEmailDomain は所属機関のメールドメインのデフォルト値。
const DefaultEmailDomain = "@cine-tv.edu.it"

// nameRegex は氏名に許可する文字種（Unicode文字、空白、アポストロフィ）。
var nameRegex = regexp.MustCompile(`^[\p{L}\s']+$`)

// Roster は署名を許可するメールアドレスの名簿。
// 引数には正規化済み（trim + 小文字化）のメールアドレスが渡される。
type Roster interface {
	Contains(normalizedEmail string) bool
}

// Result は検証済み・正規化済みの入力値。
type Result struct {
	FirstName string
	LastName  string
	Email     string
}

// Validator は氏名とメールアドレスを検証する。
type Validator struct {
	domain string
	roster Roster
}

// Option はValidatorの設定を変更する。
type Option func(*Validator)

// WithDomain はメールアドレスの末尾に要求するドメインを設定する。
// "@"で始まらない場合は先頭に付与する。
func WithDomain(domain string) Option {
	return func(v *Validator) {
		d := strings.ToLower(strings.TrimSpace(domain))
		if d == "" {
			return
		}
		if !strings.HasPrefix(d, "@") {
			d = "@" + d
		}
		v.domain = d
	}
}

// WithRoster は名簿照合ポリシーを有効にする。nilの場合は無効のまま。
func WithRoster(r Roster) Option {
	return func(v *Validator) {
		v.roster = r
	}
}

// New はValidatorを生成する。
func New(opts ...Option) *Validator {
	v := &Validator{domain: DefaultEmailDomain}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Domain は設定されているメールドメインを返す。
func (v *Validator) Domain() string {
	return v.domain
}

// Validate は入力を検証し、trim済みの氏名と正規化済みメールアドレスを返す。
// 検証順序: 氏名の必須 → 氏名の文字種 → メールの必須 → ドメイン → 名簿
func (v *Validator) Validate(firstName, lastName, email string) (Result, error) {
	first := strings.TrimSpace(firstName)
	last := strings.TrimSpace(lastName)

	if first == "" {
		return Result{}, model.NewMissingFieldError(model.FieldFirstName)
	}
	if last == "" {
		return Result{}, model.NewMissingFieldError(model.FieldLastName)
	}
	if !ValidName(first) || !ValidName(last) {
		return Result{}, model.NewInvalidNameFormatError()
	}

	normalized := model.NormalizeEmail(email)
	if normalized == "" {
		return Result{}, model.NewMissingFieldError(model.FieldEmail)
	}
	if !strings.HasSuffix(normalized, v.domain) {
		return Result{}, model.NewInvalidEmailDomainError(v.domain)
	}
	if v.roster != nil && !v.roster.Contains(normalized) {
		return Result{}, model.NewNotInRosterError()
	}

	return Result{
		FirstName: first,
		LastName:  last,
		Email:     normalized,
	}, nil
}

// ValidName は氏名が許可された文字種のみで構成されているかを返す。
func ValidName(name string) bool {
	return nameRegex.MatchString(name)
}
