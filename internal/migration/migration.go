// Package migration は旧スキーマで保存された署名レコードを現行スキーマに正規化する。
//
// 読み込み時に1回だけ Classify でレコードの形状を判定し、Migrate で正規レコードに変換する。
// 不正な形状のデータでもエラーにはせず、フィールドをそのまま引き継ぐ（署名を失わない方針）。
package migration

import (
	"strings"
	"unicode"

	"github.com/hitoshi/presenze/internal/model"
)

// Shape は保存済みレコードの形状を表す。
type Shape int

const (
	// ShapeUnknown は想定外の形状。フィールドはそのまま引き継ぐ。
	ShapeUnknown Shape = iota
	// ShapeCanonical は姓・名が分かれた現行スキーマ。
	ShapeCanonical
	// ShapeLegacy は氏名結合フィールド（name）のみを持つ旧スキーマ。
	ShapeLegacy
)

// String はShapeの名前を返す。
func (s Shape) String() string {
	switch s {
	case ShapeCanonical:
		return "canonical"
	case ShapeLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// Classify はレコードの形状を判定する。
func Classify(raw model.RawRecord) Shape {
	if raw.FirstName != "" && raw.LastName != "" {
		return ShapeCanonical
	}
	if strings.TrimSpace(raw.Name) != "" {
		return ShapeLegacy
	}
	return ShapeUnknown
}

// Migrate はレコードを正規レコードに変換する。
// 冪等: Migrate(RawFromSignature(Migrate(r))) == Migrate(r)
func Migrate(raw model.RawRecord) model.Signature {
	switch Classify(raw) {
	case ShapeLegacy:
		first, last := SplitName(raw.Name)
		return model.Signature{
			FirstName: first,
			LastName:  last,
			Email:     raw.Email,
			Timestamp: raw.Timestamp,
		}
	default:
		return model.Signature{
			FirstName: raw.FirstName,
			LastName:  raw.LastName,
			Email:     raw.Email,
			Timestamp: raw.Timestamp,
		}
	}
}

// Result はMigrateAllの結果。
type Result struct {
	Records  []model.Signature
	Migrated int // 旧スキーマから変換したレコード数
	Unknown  int // 想定外の形状で引き継いだレコード数
}

// MigrateAll は読み込んだ全レコードを正規化する。
// フィールドを1つも持たない空レコードは署名を含まないため除外する。
func MigrateAll(raws []model.RawRecord) Result {
	res := Result{Records: make([]model.Signature, 0, len(raws))}
	for _, raw := range raws {
		if raw.IsEmpty() {
			continue
		}
		switch Classify(raw) {
		case ShapeLegacy:
			res.Migrated++
		case ShapeUnknown:
			res.Unknown++
		}
		res.Records = append(res.Records, Migrate(raw))
	}
	return res
}

// SplitName は氏名を最後の空白の連続で分割する。
// 前半が名、後半が姓となる。空白がない場合は全体を姓として扱い、名は空文字列を返す。
// 旧表示仕様が末尾の姓で並べていたため、単一語の氏名は姓とみなす。
func SplitName(name string) (firstName, lastName string) {
	trimmed := strings.TrimSpace(name)

	runes := []rune(trimmed)
	end := -1
	for i := len(runes) - 1; i >= 0; i-- {
		if unicode.IsSpace(runes[i]) {
			end = i
			break
		}
	}
	if end == -1 {
		return "", trimmed
	}

	start := end
	for start > 0 && unicode.IsSpace(runes[start-1]) {
		start--
	}

	return string(runes[:start]), string(runes[end+1:])
}
