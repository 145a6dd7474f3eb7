// Package ledger は出席署名台帳のドメインロジックを提供する。
//
// 台帳はメールアドレスを一意キーとする署名の集合を保持し、
// 検証・重複チェック・永続化層への書き込みを1つの排他区間で行う。
// 起動時は永続化層が正であり、Loadで読み込んだ内容から台帳を構築する。
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/presenze/internal/migration"
	"github.com/hitoshi/presenze/internal/model"
	"github.com/hitoshi/presenze/internal/repository"
	"github.com/hitoshi/presenze/internal/validator"
)

// DefaultLocation は署名日時の表示に使うタイムゾーン名。
const DefaultLocation = "Europe/Rome"

// Validator は署名入力の検証インターフェース。
type Validator interface {
	Validate(firstName, lastName, email string) (validator.Result, error)
}

// Recorder は台帳操作のメトリクス記録インターフェース。
type Recorder interface {
	SignatureCreated()
	DuplicateRejected()
	ValidationFailed(code string)
	LedgerReset()
	StorageError(op string)
	LegacyMigrated(n int)
	SetSignatures(n int)
}

// LoadReport はLoadの結果。
type LoadReport struct {
	Total      int  // 読み込み後の署名数
	Migrated   int  // 旧スキーマから変換したレコード数
	Unknown    int  // 想定外の形状で引き継いだレコード数
	Duplicates int  // 重複のため除外したレコード数
	Rewritten  bool // 正規形で永続化層に書き戻したかどうか
}

// Ledger は出席署名台帳。
// 全操作はミューテックスで直列化される。
type Ledger struct {
	mu        sync.Mutex
	repo      repository.SignatureRepository
	validator Validator
	logger    *slog.Logger
	metrics   Recorder
	now       func() time.Time
	loc       *time.Location
	readOnly  bool // trueならLoadで永続化層へ書き戻さない

	records []model.Signature
	index   map[string]int // 正規化メールアドレス → recordsの位置
}

// Option はLedgerの設定を変更する。
type Option func(*Ledger)

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLocation は署名日時の表示タイムゾーンを設定する。
func WithLocation(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// WithRecorder はメトリクスの記録先を設定する。
func WithRecorder(r Recorder) Option {
	return func(l *Ledger) {
		if r != nil {
			l.metrics = r
		}
	}
}

// WithoutRewrite はLoadで旧形式レコードを変換しても永続化層へ書き戻さないようにする。
// CSVエクスポートのように保存内容を変更してはならない用途で使う。
func WithoutRewrite() Option {
	return func(l *Ledger) { l.readOnly = true }
}

// New は空の台帳を生成する。保存済みの署名を反映するにはLoadを呼ぶこと。
func New(repo repository.SignatureRepository, v Validator, logger *slog.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		repo:      repo,
		validator: v,
		logger:    logger,
		metrics:   noopRecorder{},
		now:       time.Now,
		loc:       time.Local,
		index:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load は永続化層から全署名を読み込み、台帳の内容を置き換える。
// 旧スキーマのレコードや重複があれば正規形に変換し、永続化層へ書き戻す（失敗してもログのみ）。
// 書き戻しは永続化層のRewriteで不可分に行い、読み込み後に他のインスタンスが保存した署名も残す。
// 読み込みに失敗した場合は台帳の内容を変更せずにSTORAGE_UNAVAILABLEを返す。
func (l *Ledger) Load(ctx context.Context) (LoadReport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.loadLocked(ctx)
}

func (l *Ledger) loadLocked(ctx context.Context) (LoadReport, error) {
	raws, err := l.repo.LoadAll(ctx)
	if err != nil {
		l.metrics.StorageError("load")
		l.logger.Error("保存済み署名の読み込みに失敗しました",
			slog.String("error", err.Error()),
		)
		return LoadReport{}, storageError(err, model.NewLoadUnavailableError())
	}

	n := normalize(raws)
	rewritten := false
	if n.needsRewrite() && !l.readOnly {
		if latest, ok := l.rewrite(ctx); ok {
			n = latest
			rewritten = true
		}
	}

	for _, dup := range n.dropped {
		l.logger.Warn("重複したメールアドレスの署名を除外しました",
			slog.String("email", dup.NormalizedEmail()),
			slog.String("kept_timestamp", n.records[n.index[dup.NormalizedEmail()]].Timestamp),
			slog.String("dropped_timestamp", dup.Timestamp),
		)
	}
	if rewritten {
		l.metrics.LegacyMigrated(n.migrated)
	}

	l.records = n.records
	l.index = n.index
	l.metrics.SetSignatures(len(n.records))

	report := LoadReport{
		Total:      len(n.records),
		Migrated:   n.migrated,
		Unknown:    n.unknown,
		Duplicates: len(n.dropped),
		Rewritten:  rewritten,
	}
	l.logger.Info("署名台帳を読み込みました",
		slog.Int("total", report.Total),
		slog.Int("migrated", report.Migrated),
		slog.Int("unknown", report.Unknown),
		slog.Int("duplicates", report.Duplicates),
	)
	return report, nil
}

// normalized は保存済みレコードを正規形に変換し、重複を除いた結果。
type normalized struct {
	records  []model.Signature
	index    map[string]int
	migrated int
	unknown  int
	dropped  []model.Signature // 重複のため除外したレコード（先に保存された方を残す）
}

func (n normalized) needsRewrite() bool {
	return n.migrated > 0 || len(n.dropped) > 0
}

// normalize は副作用を持たない。永続化層のRewriteから再試行のたびに呼ばれる。
func normalize(raws []model.RawRecord) normalized {
	res := migration.MigrateAll(raws)

	n := normalized{
		records:  make([]model.Signature, 0, len(res.Records)),
		index:    make(map[string]int, len(res.Records)),
		migrated: res.Migrated,
		unknown:  res.Unknown,
	}
	for _, sig := range res.Records {
		key := sig.NormalizedEmail()
		if _, ok := n.index[key]; ok {
			n.dropped = append(n.dropped, sig)
			continue
		}
		n.index[key] = len(n.records)
		n.records = append(n.records, sig)
	}
	return n
}

// rewrite は永続化層の最新の内容を正規化して書き戻し、書き戻した内容を返す。
func (l *Ledger) rewrite(ctx context.Context) (normalized, bool) {
	var latest normalized
	_, err := l.repo.Rewrite(ctx, func(raws []model.RawRecord) []model.Signature {
		latest = normalize(raws)
		return latest.records
	})
	if errors.Is(err, repository.ErrUnsupported) {
		l.logger.Info("永続化層が一括書き戻しに対応していないため旧形式レコードの書き換えを省略しました")
		return normalized{}, false
	}
	if err != nil {
		l.metrics.StorageError("replace")
		l.logger.Warn("旧形式レコードの書き戻しに失敗しました",
			slog.String("error", err.Error()),
		)
		return normalized{}, false
	}
	return latest, true
}

// Insert は署名を検証して台帳に追加し、保存されたレコードを返す。
//
// 入力が不正な場合は検証エラー、同一メールアドレスが既に存在する場合は
// *model.DuplicateEmailErrorを返す。永続化層で一意制約違反となった場合も
// 同じく*model.DuplicateEmailErrorとして扱う。
// 永続化に失敗した場合は台帳の内容を変更しない。
func (l *Ledger) Insert(ctx context.Context, firstName, lastName, email string) (model.Signature, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	in, err := l.validator.Validate(firstName, lastName, email)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) {
			l.metrics.ValidationFailed(apiErr.Code)
		}
		return model.Signature{}, err
	}

	if i, ok := l.index[in.Email]; ok {
		l.metrics.DuplicateRejected()
		l.logger.Info("署名済みのメールアドレスによる再署名を拒否しました",
			slog.String("email", in.Email),
		)
		return model.Signature{}, &model.DuplicateEmailError{Existing: l.records[i]}
	}

	sig := model.Signature{
		FirstName: in.FirstName,
		LastName:  in.LastName,
		Email:     in.Email,
		Timestamp: model.FormatTimestamp(l.now().In(l.loc)),
	}

	stored, err := l.repo.Create(ctx, sig)
	if errors.Is(err, repository.ErrConflict) {
		l.metrics.DuplicateRejected()
		return model.Signature{}, l.conflictLocked(ctx, in.Email)
	}
	if err != nil {
		l.metrics.StorageError("create")
		l.logger.Error("署名の保存に失敗しました",
			slog.String("email", in.Email),
			slog.String("error", err.Error()),
		)
		return model.Signature{}, storageError(err, model.NewStorageUnavailableError())
	}

	l.index[stored.NormalizedEmail()] = len(l.records)
	l.records = append(l.records, stored)
	l.metrics.SignatureCreated()
	l.metrics.SetSignatures(len(l.records))

	l.logger.Info("署名を登録しました",
		slog.String("email", stored.Email),
		slog.Int("total", len(l.records)),
	)
	return stored, nil
}

// conflictLocked は永続化層で重複と判定された場合に台帳を再読み込みし、
// 既存レコードを含むDuplicateEmailErrorを返す。
// 再読み込みに失敗した場合も、メールアドレスのみのDuplicateEmailErrorを返す。
func (l *Ledger) conflictLocked(ctx context.Context, email string) error {
	l.logger.Info("永続化層で重複が検出されたため台帳を再読み込みします",
		slog.String("email", email),
	)

	if _, err := l.loadLocked(ctx); err != nil {
		return &model.DuplicateEmailError{Existing: model.Signature{Email: email}}
	}

	if i, ok := l.index[email]; ok {
		return &model.DuplicateEmailError{Existing: l.records[i]}
	}
	return &model.DuplicateEmailError{Existing: model.Signature{Email: email}}
}

// List は台帳の全署名のコピーを登録順で返す。
func (l *Ledger) List() []model.Signature {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]model.Signature, len(l.records))
	copy(out, l.records)
	return out
}

// Count は台帳の署名数を返す。
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.records)
}

// Reset は全署名を削除する。privilegedがfalseの場合はFORBIDDENを返す。
// 確認ダイアログなどの意思確認は呼び出し元の責務。
// 永続化層の削除に失敗した場合は台帳の内容を変更しない。
func (l *Ledger) Reset(ctx context.Context, privileged bool) error {
	if !privileged {
		return model.NewForbiddenError()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.repo.DeleteAll(ctx); err != nil {
		l.metrics.StorageError("delete")
		l.logger.Error("署名の全削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return storageError(err, model.NewStorageUnavailableError())
	}

	removed := len(l.records)
	l.records = nil
	l.index = make(map[string]int)
	l.metrics.LedgerReset()
	l.metrics.SetSignatures(0)

	l.logger.Info("署名台帳をリセットしました",
		slog.Int("removed", removed),
	)
	return nil
}

// storageError は永続化層のエラーを統一エラーフォーマットに変換する。
// 永続化層がAPIErrorを返した場合（リモートサービスの検証エラーなど）はそのまま返す。
func storageError(err error, fallback *model.APIError) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, repository.ErrNetwork) {
		return model.NewNetworkError()
	}
	return fallback
}

type noopRecorder struct{}

func (noopRecorder) SignatureCreated()       {}
func (noopRecorder) DuplicateRejected()      {}
func (noopRecorder) ValidationFailed(string) {}
func (noopRecorder) LedgerReset()            {}
func (noopRecorder) StorageError(string)     {}
func (noopRecorder) LegacyMigrated(int)      {}
func (noopRecorder) SetSignatures(int)       {}
