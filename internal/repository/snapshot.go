package repository

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/presenze/internal/model"
)

// storedRecord はスナップショット内の1レコードのJSON表現。
// ブラウザのlocalStorageに保存されていた形式と互換のキー名を使う。
type storedRecord struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email"`
	Timestamp string `json:"timestamp"`
}

// encodeSnapshot はレコード一覧をJSON配列にエンコードする。
func encodeSnapshot(records []model.RawRecord) ([]byte, error) {
	out := make([]storedRecord, len(records))
	for i, r := range records {
		out[i] = storedRecord{
			FirstName: r.FirstName,
			LastName:  r.LastName,
			Name:      r.Name,
			Email:     r.Email,
			Timestamp: r.Timestamp,
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// decodeSnapshot はJSON配列をレコード一覧にデコードする。
// 空データとnullは0件として扱う。オブジェクト以外の要素は読み飛ばし、
// 文字列以外のフィールド値は文字列表現に変換する。
// 配列として解釈できない場合はエラーを返す。
func decodeSnapshot(data []byte) ([]model.RawRecord, error) {
	records := []model.RawRecord{}
	if len(bytes.TrimSpace(data)) == 0 {
		return records, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	for _, elem := range elems {
		var fields map[string]any
		if err := json.Unmarshal(elem, &fields); err != nil || fields == nil {
			continue
		}
		records = append(records, model.RawRecord{
			FirstName: stringField(fields, "firstName"),
			LastName:  stringField(fields, "lastName"),
			Name:      stringField(fields, "name"),
			Email:     stringField(fields, "email"),
			Timestamp: stringField(fields, "timestamp"),
		})
	}
	return records, nil
}

func stringField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
