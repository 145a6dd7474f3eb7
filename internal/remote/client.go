// Package remote は別インスタンスの署名APIを永続化層として利用するクライアントを提供する。
// 重複チェックと追加の不可分性はリモート側の一意制約（HTTP 409）に委ねる。
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/presenze/internal/model"
	"github.com/hitoshi/presenze/internal/repository"
)

const (
	// signaturesPath は署名APIのパス。
	signaturesPath = "/api/signatures"
	// adminTokenHeader は管理者トークンを送るヘッダー名。
	adminTokenHeader = "X-Admin-Token"
	// userAgent はリクエストに付与するUser-Agent。
	userAgent = "Presenze/1.0"
	// maxBodyBytes はレスポンスボディの読み取り上限。
	maxBodyBytes = 4 << 20
)

// Client はリモート署名サービスのクライアント。
// repository.SignatureRepositoryを実装する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	adminToken string        // DeleteAllでリモート側の再認可に使用する
	retryBase  time.Duration // LoadAllの再試行の初回遅延
}

var _ repository.SignatureRepository = (*Client)(nil)

// NewClient はClientの新しいインスタンスを生成する。
// baseURLはリモートサービスのオリジン（例: "https://presenze.example.com"）。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL, adminToken string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		adminToken: adminToken,
		retryBase:  initialRetryDelay,
	}
}

// signatureJSON はAPIの署名レコード表現。
type signatureJSON struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Timestamp string `json:"timestamp"`
}

type listResponse struct {
	Count      int             `json:"count"`
	Signatures []signatureJSON `json:"signatures"`
}

type createRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

type createResponse struct {
	Signature signatureJSON `json:"signature"`
}

type errorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// LoadAll はリモートサービスから全署名を登録順で取得する。
// 通信エラーと429/5xxの応答は指数バックオフで再試行する。
func (c *Client) LoadAll(ctx context.Context) ([]model.RawRecord, error) {
	reqURL, err := c.endpoint(url.Values{"order": {"insertion"}})
	if err != nil {
		return nil, err
	}

	var body []byte
	for attempt := 1; ; attempt++ {
		var resp *http.Response
		resp, body, err = c.do(ctx, http.MethodGet, reqURL, nil)

		retry := err != nil
		if err == nil {
			switch classifyStatus(resp.StatusCode) {
			case statusOK:
			case statusRetry:
				err = c.statusError("list", resp.StatusCode, body)
				retry = true
			default:
				return nil, c.statusError("list", resp.StatusCode, body)
			}
		}
		if !retry {
			break
		}
		if attempt >= maxLoadAttempts {
			return nil, err
		}

		delay := retryDelay(c.retryBase, attempt-1)
		c.logger.Warn("署名一覧の取得を再試行します",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return nil, err
		}
	}

	var result listResponse
	if err := json.Unmarshal(body, &result); err != nil {
		c.logger.Error("署名一覧レスポンスのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w: %w", repository.ErrUnavailable, err)
	}

	records := make([]model.RawRecord, 0, len(result.Signatures))
	for _, s := range result.Signatures {
		records = append(records, model.RawRecord{
			FirstName: s.FirstName,
			LastName:  s.LastName,
			Email:     s.Email,
			Timestamp: s.Timestamp,
		})
	}
	return records, nil
}

// Create はリモートサービスに署名を登録する。
// リモート側で重複と判定された場合（HTTP 409）はrepository.ErrConflictを返す。
// 日時はリモート側が付与するため、戻り値のTimestampはリモートの値となる。
func (c *Client) Create(ctx context.Context, sig model.Signature) (model.Signature, error) {
	reqURL, err := c.endpoint(nil)
	if err != nil {
		return model.Signature{}, err
	}

	payload, err := json.Marshal(createRequest{
		FirstName: sig.FirstName,
		LastName:  sig.LastName,
		Email:     sig.Email,
	})
	if err != nil {
		return model.Signature{}, fmt.Errorf("リクエストJSONの生成に失敗しました: %w", err)
	}

	resp, body, err := c.do(ctx, http.MethodPost, reqURL, payload)
	if err != nil {
		return model.Signature{}, err
	}

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
	case http.StatusConflict:
		return model.Signature{}, fmt.Errorf("email %s: %w", sig.NormalizedEmail(), repository.ErrConflict)
	default:
		return model.Signature{}, c.statusError("create", resp.StatusCode, body)
	}

	var result createResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return model.Signature{}, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w: %w", repository.ErrUnavailable, err)
	}

	return model.Signature{
		FirstName: result.Signature.FirstName,
		LastName:  result.Signature.LastName,
		Email:     result.Signature.Email,
		Timestamp: result.Signature.Timestamp,
	}, nil
}

// Rewrite はサポートしない。旧形式レコードの書き換えはリモートサービス自身が行う。
func (c *Client) Rewrite(ctx context.Context, fn repository.RewriteFunc) ([]model.Signature, error) {
	return nil, fmt.Errorf("remote Rewrite: %w", repository.ErrUnsupported)
}

// DeleteAll はリモートサービスの全署名を削除する。
// 管理者トークンがあればヘッダーで転送し、なければ ?admin=true を付けて
// リモート側で改めて権限を確認させる。
func (c *Client) DeleteAll(ctx context.Context) error {
	var query url.Values
	if c.adminToken == "" {
		query = url.Values{"admin": {"true"}}
	}
	reqURL, err := c.endpoint(query)
	if err != nil {
		return err
	}

	resp, body, err := c.do(ctx, http.MethodDelete, reqURL, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return c.statusError("delete", resp.StatusCode, body)
	}
	return nil
}

// endpoint は署名APIのURLを組み立てる。
func (c *Client) endpoint(query url.Values) (string, error) {
	u, err := url.Parse(c.baseURL + signaturesPath)
	if err != nil {
		return "", fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

// do はHTTPリクエストを実行し、レスポンスとボディを返す。
// 通信エラーはrepository.ErrNetworkでラップする。
func (c *Client) do(ctx context.Context, method, reqURL string, payload []byte) (*http.Response, []byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.adminToken != "" {
		req.Header.Set(adminTokenHeader, c.adminToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("リモート署名サービスの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("error", err.Error()),
		)
		return nil, nil, fmt.Errorf("%s %s: %w: %w", method, signaturesPath, repository.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.logger.Error("レスポンスボディの読み取りに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w: %w", repository.ErrNetwork, err)
	}

	return resp, body, nil
}

// statusError は想定外のステータスコードをエラーに変換する。
// 4xxで統一エラーフォーマットのボディを持つ場合は*model.APIErrorをそのまま返す。
func (c *Client) statusError(op string, status int, body []byte) error {
	c.logger.Error("リモート署名サービスがエラーステータスを返しました",
		slog.String("op", op),
		slog.Int("http_status", status),
	)

	if status >= 400 && status < 500 {
		var e errorResponse
		if err := json.Unmarshal(body, &e); err == nil && e.Code != "" {
			return &model.APIError{
				Code:     e.Code,
				Message:  e.Message,
				Category: e.Category,
				Action:   e.Action,
			}
		}
		if status == http.StatusForbidden {
			return model.NewForbiddenError()
		}
	}

	return fmt.Errorf("リモート署名サービスがステータス %d を返しました: %w", status, repository.ErrUnavailable)
}
