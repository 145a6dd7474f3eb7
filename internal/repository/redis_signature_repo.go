package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/presenze/internal/model"
)

// DefaultRedisKey は署名スナップショットを保存するキーのデフォルト値。
const DefaultRedisKey = "collegio-docenti-signatures"

// maxTxRetries は楽観的ロックの競合時に再試行する最大回数。
const maxTxRetries = 5

// RedisSignatureRepo は全署名を1つのキーにJSON配列として保存するリポジトリ。
// 書き込みはWATCH/MULTIによる楽観的トランザクションで行い、
// 複数インスタンスからの同時署名でも重複チェックと追加を不可分にする。
type RedisSignatureRepo struct {
	client *redis.Client
	key    string
}

var _ SignatureRepository = (*RedisSignatureRepo)(nil)

// NewRedisSignatureRepo はRedisSignatureRepoを生成する。
// keyが空の場合はDefaultRedisKeyを使用する。
func NewRedisSignatureRepo(client *redis.Client, key string) *RedisSignatureRepo {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisSignatureRepo{client: client, key: key}
}

// LoadAll はスナップショットを読み込む。キーが存在しない場合は空スライスを返す。
func (r *RedisSignatureRepo) LoadAll(ctx context.Context) ([]model.RawRecord, error) {
	return r.read(ctx, r.client)
}

// Create はスナップショットに署名を1件追加する。
func (r *RedisSignatureRepo) Create(ctx context.Context, sig model.Signature) (model.Signature, error) {
	key := sig.NormalizedEmail()
	stored := sig
	stored.Email = key

	err := r.update(ctx, func(records []model.RawRecord) ([]model.RawRecord, error) {
		for _, rec := range records {
			if model.NormalizeEmail(rec.Email) == key {
				return nil, fmt.Errorf("email %s: %w", key, ErrConflict)
			}
		}
		return append(records, model.RawFromSignature(stored)), nil
	})
	if err != nil {
		return model.Signature{}, err
	}
	return stored, nil
}

// Rewrite はWATCH中に読んだスナップショットをfnで変換して書き戻す。
// 途中で他のクライアントが署名を追加した場合は、追加後の内容で再計算する。
func (r *RedisSignatureRepo) Rewrite(ctx context.Context, fn RewriteFunc) ([]model.Signature, error) {
	var written []model.Signature
	err := r.update(ctx, func(records []model.RawRecord) ([]model.RawRecord, error) {
		written = fn(records)
		return rawRecords(written), nil
	})
	if err != nil {
		return nil, err
	}
	return written, nil
}

// DeleteAll はスナップショットのキーを削除する。
func (r *RedisSignatureRepo) DeleteAll(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w: %w", ErrUnavailable, err)
	}
	return nil
}

// update はキーをWATCHした状態でスナップショットを読み、fnの結果をMULTI/EXECで書き戻す。
// 他のクライアントが途中でキーを更新した場合は再試行する。
func (r *RedisSignatureRepo) update(ctx context.Context, fn func([]model.RawRecord) ([]model.RawRecord, error)) error {
	txf := func(tx *redis.Tx) error {
		records, err := r.read(ctx, tx)
		if err != nil {
			return err
		}

		next, err := fn(records)
		if err != nil {
			return err
		}

		data, err := encodeSnapshot(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.key, data, 0)
			return nil
		})
		return err
	}

	for range maxTxRetries {
		err := r.client.Watch(ctx, txf, r.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrConflict) || errors.Is(err, ErrUnavailable) {
				return err
			}
			return fmt.Errorf("failed to update snapshot: %w: %w", ErrUnavailable, err)
		}
		return nil
	}

	return fmt.Errorf("snapshot update retries exhausted: %w", ErrUnavailable)
}

// snapshotGetter は*redis.Clientと*redis.Txに共通のGET操作。
type snapshotGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// read はスナップショットを読み込んでデコードする。
func (r *RedisSignatureRepo) read(ctx context.Context, c snapshotGetter) ([]model.RawRecord, error) {
	data, err := c.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return []model.RawRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w: %w", ErrUnavailable, err)
	}

	records, err := decodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return records, nil
}
