package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/hitoshi/presenze/internal/model"
)

// MemorySignatureRepo はプロセス内メモリに署名を保持するリポジトリ。
// 開発環境と単一インスタンス運用向け。プロセス終了時にデータは失われる。
type MemorySignatureRepo struct {
	mu      sync.RWMutex
	records []model.RawRecord
}

var _ SignatureRepository = (*MemorySignatureRepo)(nil)

// NewMemorySignatureRepo はMemorySignatureRepoを生成する。
// seedを指定すると、保存済みデータとして初期化する（旧スキーマのレコードも可）。
func NewMemorySignatureRepo(seed ...model.RawRecord) *MemorySignatureRepo {
	return &MemorySignatureRepo{records: append([]model.RawRecord(nil), seed...)}
}

// LoadAll は保存済みの全レコードのコピーを返す。
func (r *MemorySignatureRepo) LoadAll(ctx context.Context) ([]model.RawRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.RawRecord, len(r.records))
	copy(out, r.records)
	return out, nil
}

// Create は署名を1件追加する。
func (r *MemorySignatureRepo) Create(ctx context.Context, sig model.Signature) (model.Signature, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sig.NormalizedEmail()
	for _, rec := range r.records {
		if model.NormalizeEmail(rec.Email) == key {
			return model.Signature{}, fmt.Errorf("email %s: %w", key, ErrConflict)
		}
	}

	r.records = append(r.records, model.RawFromSignature(sig))
	return sig, nil
}

// Rewrite はロックを保持したまま現在のレコードをfnに渡し、結果で置き換える。
func (r *MemorySignatureRepo) Rewrite(ctx context.Context, fn RewriteFunc) ([]model.Signature, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current := make([]model.RawRecord, len(r.records))
	copy(current, r.records)

	sigs := fn(current)
	r.records = rawRecords(sigs)
	return sigs, nil
}

// rawRecords は正規形の一覧を保存用のレコードに変換する。
func rawRecords(sigs []model.Signature) []model.RawRecord {
	records := make([]model.RawRecord, len(sigs))
	for i, s := range sigs {
		records[i] = model.RawFromSignature(s)
	}
	return records
}

// DeleteAll は全レコードを削除する。
func (r *MemorySignatureRepo) DeleteAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = nil
	return nil
}
