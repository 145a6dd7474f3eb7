package model

import (
	"fmt"
	"time"
)

// NoticeKind は通知の種別を表す。
type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

// DefaultNoticeTTL は通知の表示期間のデフォルト値。
const DefaultNoticeTTL = 5 * time.Second

// Notice は期限付きのUI通知メッセージを表す値オブジェクト。
// 表示の消去タイミングはクライアント側が ExpiresAt を見て決める。
type Notice struct {
	Kind      NoticeKind
	Text      string
	ExpiresAt time.Time
}

// NewNotice はnowからttl経過後に失効するNoticeを生成する。
// ttlが0以下の場合はDefaultNoticeTTLを使用する。
func NewNotice(kind NoticeKind, text string, now time.Time, ttl time.Duration) Notice {
	if ttl <= 0 {
		ttl = DefaultNoticeTTL
	}
	return Notice{
		Kind:      kind,
		Text:      text,
		ExpiresAt: now.Add(ttl),
	}
}

// Expired は指定時刻において通知が失効しているかどうかを返す。
func (n Notice) Expired(now time.Time) bool {
	return !now.Before(n.ExpiresAt)
}

// NewSignedNotice は署名完了時の成功通知を生成する。
func NewSignedNotice(s Signature, now time.Time, ttl time.Duration) Notice {
	text := fmt.Sprintf("Grazie, %s %s. La tua presenza è stata registrata con successo.", s.FirstName, s.LastName)
	return NewNotice(NoticeSuccess, text, now, ttl)
}
