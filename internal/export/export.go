// Package export は署名一覧をCSV形式のテキストに変換する。
package export

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/hitoshi/presenze/internal/model"
)

// ErrEmptyExport はエクスポート対象の署名が0件であることを示す。
// ヘッダーのみのファイルを出力するかどうかは呼び出し元が判断する。
var ErrEmptyExport = errors.New("export: no signatures to export")

// Header はCSVのヘッダー行の列名。
var Header = []string{"Cognome", "Nome", "Email", "Data e Ora della Firma"}

// ContentType はCSVレスポンスのContent-Type。
const ContentType = "text/csv; charset=utf-8"

// FileNamePrefix はエクスポートファイル名の接頭辞。
const FileNamePrefix = "firme_collegio_docenti_"

// ToDelimitedText は並び替え済みの署名一覧をCSVテキストに変換する。
// 全フィールドをダブルクォートで囲み、フィールド内のダブルクォートは二重化する。
// 行区切りは"\n"で、末尾に改行は付けない。
// 0件の場合はErrEmptyExportを返す。
func ToDelimitedText(records []model.Signature) (string, error) {
	if len(records) == 0 {
		return "", ErrEmptyExport
	}

	var b strings.Builder
	writeRow(&b, Header)
	for _, r := range records {
		b.WriteByte('\n')
		writeRow(&b, []string{r.LastName, r.FirstName, r.Email, r.Timestamp})
	}
	return b.String(), nil
}

// HeaderOnly はヘッダー行のみのCSVテキストを返す。
func HeaderOnly() string {
	var b strings.Builder
	writeRow(&b, Header)
	return b.String()
}

// Write はCSVテキストをwに書き込む。
// 0件の場合、allowEmptyがtrueならヘッダーのみを書き込み、falseならErrEmptyExportを返す。
func Write(w io.Writer, records []model.Signature, allowEmpty bool) error {
	text, err := ToDelimitedText(records)
	if errors.Is(err, ErrEmptyExport) && allowEmpty {
		text, err = HeaderOnly(), nil
	}
	if err != nil {
		return err
	}

	if _, err := io.WriteString(w, text); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}

// FileName はエクスポート日付を含むファイル名を返す。
// 日付はUTCで決定する。
func FileName(t time.Time) string {
	return FileNamePrefix + t.UTC().Format("2006-01-02") + ".csv"
}

func writeRow(b *strings.Builder, fields []string) {
	for i, f := range fields {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(f, `"`, `""`))
		b.WriteByte('"')
	}
}
