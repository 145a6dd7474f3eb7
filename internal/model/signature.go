// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// TimestampLayout は署名日時の表示形式（it-IT、dateStyle: short / timeStyle: medium 相当）。
const TimestampLayout = "02/01/06, 15:04:05"

// Signature は出席署名の正規レコードを表す。
// メールアドレスが自然キーであり、台帳内で一意となる。
// 生成後は変更しない（イミュータブル）。
type Signature struct {
	FirstName string
	LastName  string
	Email     string // trim + 小文字化済み
	Timestamp string // 挿入時に1回だけ付与される表示用日時（参考値）
}

// NormalizedEmail は一意性判定に使用する正規化済みメールアドレスを返す。
func (s Signature) NormalizedEmail() string {
	return NormalizeEmail(s.Email)
}

// IsCanonical は姓と名がそれぞれ空でない正規レコードかどうかを返す。
func (s Signature) IsCanonical() bool {
	return s.FirstName != "" && s.LastName != ""
}

// RawRecord はストレージから読み込んだ未検証のレコードを表す。
// 旧スキーマ（Nameのみ）と現行スキーマ（FirstName/LastName）のどちらも保持できる。
// 今後Nameを書き込むことはなく、移行処理の入力としてのみ扱う。
type RawRecord struct {
	FirstName string
	LastName  string
	Name      string // 旧スキーマの「氏名」結合フィールド
	Email     string
	Timestamp string
}

// IsEmpty はレコードがいずれのフィールドも持たないかどうかを返す。
func (r RawRecord) IsEmpty() bool {
	return r.FirstName == "" && r.LastName == "" && r.Name == "" && r.Email == "" && r.Timestamp == ""
}

// RawFromSignature は正規レコードをRawRecordに変換する。
func RawFromSignature(s Signature) RawRecord {
	return RawRecord{
		FirstName: s.FirstName,
		LastName:  s.LastName,
		Email:     s.Email,
		Timestamp: s.Timestamp,
	}
}

// NormalizeEmail はメールアドレスをtrimし小文字化する。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// FormatTimestamp は署名日時を表示形式の文字列に変換する。
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}
