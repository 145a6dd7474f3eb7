package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/presenze/internal/model"
)

// pgUniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const pgUniqueViolation = "23505"

// PostgresSignatureRepo はPostgreSQLを使用した署名リポジトリ。
// メールアドレスの一意性はlower(email)のユニークインデックスで保証する。
type PostgresSignatureRepo struct {
	db *sql.DB
}

var _ SignatureRepository = (*PostgresSignatureRepo)(nil)

// NewPostgresSignatureRepo はPostgresSignatureRepoを生成する。
func NewPostgresSignatureRepo(db *sql.DB) *PostgresSignatureRepo {
	return &PostgresSignatureRepo{db: db}
}

// LoadAll は保存済みの全署名を保存順に取得する。
func (r *PostgresSignatureRepo) LoadAll(ctx context.Context) ([]model.RawRecord, error) {
	return queryRecords(ctx, r.db)
}

// querier は*sql.DBと*sql.Txに共通の問い合わせ操作。
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryRecords(ctx context.Context, q querier) ([]model.RawRecord, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT first_name, last_name, legacy_name, email, timestamp_label
		 FROM signatures ORDER BY seq`,
	)
	if err != nil {
		return nil, fmt.Errorf("署名一覧の取得に失敗しました: %w: %w", ErrUnavailable, err)
	}
	defer rows.Close()

	records := []model.RawRecord{}
	for rows.Next() {
		var rec model.RawRecord
		var legacyName sql.NullString
		if err := rows.Scan(&rec.FirstName, &rec.LastName, &legacyName, &rec.Email, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("署名のスキャンに失敗しました: %w: %w", ErrUnavailable, err)
		}
		rec.Name = nullStringValue(legacyName)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("署名一覧の読み込みに失敗しました: %w: %w", ErrUnavailable, err)
	}

	return records, nil
}

// Create は署名を1件保存する。
// 同一メールアドレスが存在する場合はErrConflictを返す。
func (r *PostgresSignatureRepo) Create(ctx context.Context, sig model.Signature) (model.Signature, error) {
	var stored model.Signature
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO signatures (id, first_name, last_name, email, timestamp_label)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING first_name, last_name, email, timestamp_label`,
		uuid.New().String(), sig.FirstName, sig.LastName, sig.NormalizedEmail(), sig.Timestamp,
	).Scan(&stored.FirstName, &stored.LastName, &stored.Email, &stored.Timestamp)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Signature{}, fmt.Errorf("email %s: %w", sig.NormalizedEmail(), ErrConflict)
		}
		return model.Signature{}, fmt.Errorf("署名の保存に失敗しました: %w: %w", ErrUnavailable, err)
	}

	return stored, nil
}

// Rewrite はテーブルをロックしたトランザクション内で全署名を読み、fnの結果で削除・再登録する。
// ロック中の他インスタンスのINSERTはコミットまで待たされるため、読み込み後の署名が消えることはない。
// 一覧の順序は保存順（seq）として維持される。
func (r *PostgresSignatureRepo) Rewrite(ctx context.Context, fn RewriteFunc) ([]model.Signature, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("トランザクションの開始に失敗しました: %w: %w", ErrUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `LOCK TABLE signatures IN SHARE ROW EXCLUSIVE MODE`); err != nil {
		return nil, fmt.Errorf("署名テーブルのロックに失敗しました: %w: %w", ErrUnavailable, err)
	}

	current, err := queryRecords(ctx, tx)
	if err != nil {
		return nil, err
	}
	sigs := fn(current)

	if _, err := tx.ExecContext(ctx, `DELETE FROM signatures`); err != nil {
		return nil, fmt.Errorf("署名の削除に失敗しました: %w: %w", ErrUnavailable, err)
	}

	for _, sig := range sigs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO signatures (id, first_name, last_name, email, timestamp_label)
			 VALUES ($1, $2, $3, $4, $5)`,
			uuid.New().String(), sig.FirstName, sig.LastName, sig.NormalizedEmail(), sig.Timestamp,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, fmt.Errorf("email %s: %w", sig.NormalizedEmail(), ErrConflict)
			}
			return nil, fmt.Errorf("署名の再登録に失敗しました: %w: %w", ErrUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("トランザクションのコミットに失敗しました: %w: %w", ErrUnavailable, err)
	}
	return sigs, nil
}

// DeleteAll は全署名を削除する。
func (r *PostgresSignatureRepo) DeleteAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM signatures`); err != nil {
		return fmt.Errorf("署名の全削除に失敗しました: %w: %w", ErrUnavailable, err)
	}
	return nil
}

// isUniqueViolation はerrがPostgreSQLの一意制約違反かどうかを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
