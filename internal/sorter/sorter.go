// Package sorter は署名一覧の表示用の並び替えを提供する。
package sorter

import (
	"slices"
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/hitoshi/presenze/internal/model"
)

// Key は並び替えのキーとなるフィールド。
type Key string

const (
	KeyLastName  Key = "lastName"
	KeyFirstName Key = "firstName"
	KeyEmail     Key = "email"
	KeyTimestamp Key = "timestamp"
)

// Direction は並び替えの方向。
type Direction string

const (
	Ascending  Direction = "ascending"
	Descending Direction = "descending"
)

// デフォルトの並び順（姓の昇順）。
const (
	DefaultKey       = KeyLastName
	DefaultDirection = Ascending
)

// Locale は文字列比較に使用するロケール。
var Locale = language.Italian

// ParseKey はクエリ文字列などからKeyを解析する。
// 未知の値の場合はfalseを返す。
func ParseKey(s string) (Key, bool) {
	switch Key(strings.TrimSpace(s)) {
	case KeyLastName:
		return KeyLastName, true
	case KeyFirstName:
		return KeyFirstName, true
	case KeyEmail:
		return KeyEmail, true
	case KeyTimestamp:
		return KeyTimestamp, true
	}
	return "", false
}

// ParseDirection はクエリ文字列などからDirectionを解析する。
// "asc"/"desc"の短縮形も受け付ける。
func ParseDirection(s string) (Direction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ascending", "asc":
		return Ascending, true
	case "descending", "desc":
		return Descending, true
	}
	return "", false
}

// Toggle は列見出しをクリックしたときの次の並び順を返す。
// 現在と同じキーが昇順で選択されていれば降順に、それ以外は昇順にする。
func Toggle(currentKey Key, currentDir Direction, requested Key) (Key, Direction) {
	if currentKey == requested && currentDir == Ascending {
		return requested, Descending
	}
	return requested, Ascending
}

// Order は署名一覧を指定キー・方向で並び替えた新しいスライスを返す。
// 入力スライスは変更しない。安定ソートのため、同値の要素は入力順を維持する。
//
// 姓で並べる場合、姓が同じ要素は方向に関わらず名の昇順で並べる。
// 名で並べる場合は姓の昇順で同様に並べる。その他のキーには二次キーはない。
func Order(records []model.Signature, key Key, dir Direction) []model.Signature {
	out := slices.Clone(records)
	if out == nil {
		out = []model.Signature{}
	}

	// Collatorはゴルーチンセーフではないため呼び出しごとに生成する
	c := collate.New(Locale)

	slices.SortStableFunc(out, func(a, b model.Signature) int {
		if cmp := c.CompareString(field(a, key), field(b, key)); cmp != 0 {
			if dir == Descending {
				return -cmp
			}
			return cmp
		}

		switch key {
		case KeyLastName:
			return c.CompareString(a.FirstName, b.FirstName)
		case KeyFirstName:
			return c.CompareString(a.LastName, b.LastName)
		}
		return 0
	})

	return out
}

// field はキーに対応するフィールド値を返す。
func field(s model.Signature, key Key) string {
	switch key {
	case KeyFirstName:
		return s.FirstName
	case KeyEmail:
		return s.Email
	case KeyTimestamp:
		return s.Timestamp
	default:
		return s.LastName
	}
}
