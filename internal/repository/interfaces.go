// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/presenze/internal/model"
)

// リポジトリ層のセンチネルエラー。実装は%wでラップして返す。
var (
	// ErrConflict は同一メールアドレスの署名が既に保存されていることを示す。
	ErrConflict = errors.New("repository: signature already exists")
	// ErrUnavailable はストレージに到達できない、または応答が不正であることを示す。
	ErrUnavailable = errors.New("repository: storage unavailable")
	// ErrNetwork はリモート署名サービスとの通信に失敗したことを示す。
	ErrNetwork = errors.New("repository: network error")
	// ErrUnsupported は実装が対象の操作をサポートしないことを示す。
	ErrUnsupported = errors.New("repository: operation not supported")
)

// RewriteFunc は保存済みの全レコードから、書き戻す正規形の一覧を計算する。
// 実装は再試行のためにfnを複数回呼ぶことがあるので、副作用を持たせないこと。
type RewriteFunc func(records []model.RawRecord) []model.Signature

// SignatureRepository は署名データの永続化インターフェース。
// 起動時はストレージが正であり、LoadAllの結果から台帳を構築する。
type SignatureRepository interface {
	// LoadAll は保存済みの全レコードを保存順に返す。
	// 旧スキーマのレコードも未加工のまま返す。データがない場合は空スライスを返す。
	LoadAll(ctx context.Context) ([]model.RawRecord, error)

	// Create は署名を1件保存し、保存されたレコードを返す。
	// 同一メールアドレス（大文字小文字を区別しない）が既に存在する場合はErrConflictを返す。
	Create(ctx context.Context, sig model.Signature) (model.Signature, error)

	// Rewrite は保存済みの全レコードを読み、fnが返す一覧で置き換える。
	// 読み込みから書き込みまでを不可分に行い、その間に他のインスタンスが保存した署名もfnに渡す。
	// 書き込んだ一覧を返す。旧スキーマのレコードを正規形で書き戻すために使用する。
	Rewrite(ctx context.Context, fn RewriteFunc) ([]model.Signature, error)

	// DeleteAll は全レコードを削除する。
	DeleteAll(ctx context.Context) error
}
