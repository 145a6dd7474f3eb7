// Package roster は署名を許可する教員メールアドレスの名簿を提供する。
package roster

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/presenze/internal/model"
)

// Static はメモリ上に保持する固定の名簿。
// 生成後は変更しないため、並行して参照できる。
type Static struct {
	emails map[string]struct{}
}

// NewStatic はメールアドレスの一覧から名簿を生成する。
// 各アドレスはtrim・小文字化し、空文字列と重複を除外する。
func NewStatic(emails []string) *Static {
	set := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		n := model.NormalizeEmail(e)
		if n == "" {
			continue
		}
		set[n] = struct{}{}
	}
	return &Static{emails: set}
}

// Contains は正規化済みメールアドレスが名簿に含まれるかどうかを返す。
func (s *Static) Contains(normalizedEmail string) bool {
	_, ok := s.emails[normalizedEmail]
	return ok
}

// Len は名簿の登録件数を返す。
func (s *Static) Len() int {
	return len(s.emails)
}

// fileDoc はYAML形式の名簿ファイルの構造。
type fileDoc struct {
	Emails []string `yaml:"emails"`
}

// LoadFile は名簿ファイルを読み込む。
// 拡張子が.yaml/.ymlの場合はYAML（emailsキー、またはアドレスの配列）、
// それ以外は1行1アドレスのテキストとして解釈する。#以降はコメント。
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		emails, err := parseYAML(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse roster file %s: %w", path, err)
		}
		return NewStatic(emails), nil
	default:
		return NewStatic(parseLines(data)), nil
	}
}

func parseYAML(data []byte) ([]string, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err == nil && len(doc.Emails) > 0 {
		return doc.Emails, nil
	}

	var list []string
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func parseLines(data []byte) []string {
	var emails []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		if line = strings.TrimSpace(line); line != "" {
			emails = append(emails, line)
		}
	}
	return emails
}
