package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// 管理APIのレスポンスとパイプライン内部の分類の両方で使用する。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: fetch, parse, publish, validation, system
	Action   string // 管理者向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeFetchFailed     = "FETCH_FAILED"
	ErrCodeParseFailed     = "PARSE_FAILED"
	ErrCodePublishFailed   = "PUBLISH_FAILED"
	ErrCodeChannelNotSet   = "CHANNEL_NOT_SET"
	ErrCodeInvalidInterval = "INVALID_INTERVAL"
	ErrCodeRunInProgress   = "RUN_IN_PROGRESS"
	ErrCodeSSRFBlocked     = "SSRF_BLOCKED"
	ErrCodeInvalidURL      = "INVALID_URL"
)

// NewFetchFailedError はリスティング/詳細ページの取得失敗エラーを生成する。
// ネットワークエラー、タイムアウト、非成功ステータスがこれに該当する。
func NewFetchFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("ページの取得に失敗しました: %s", reason),
		Category: "fetch",
		Action:   "ソースサイトの状態を確認し、しばらく待ってから再度お試しください。",
	}
}

// NewParseFailedError はマークアップの解析失敗エラーを生成する。
func NewParseFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeParseFailed,
		Message:  fmt.Sprintf("ページの解析に失敗しました: %s", reason),
		Category: "parse",
		Action:   "ソースサイトの構造が変わっていないか確認してください。",
	}
}

// NewPublishFailedError はチャンネルへの送信失敗エラーを生成する。
func NewPublishFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodePublishFailed,
		Message:  fmt.Sprintf("チャンネルへの投稿に失敗しました: %s", reason),
		Category: "publish",
		Action:   "ボットがチャンネルの管理者であること、チャンネルIDが正しいことを確認してください。",
	}
}

// NewChannelNotSetError は投稿先チャンネル未設定エラーを生成する。
// 投稿アクションの事前条件違反として呼び出し元に返される。
func NewChannelNotSetError() *APIError {
	return &APIError{
		Code:     ErrCodeChannelNotSet,
		Message:  "投稿先チャンネルが設定されていません。",
		Category: "validation",
		Action:   "先にチャンネルを設定してください。",
	}
}

// NewInvalidIntervalError は無効な自動投稿間隔エラーを生成する。
func NewInvalidIntervalError(minutes int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInterval,
		Message:  fmt.Sprintf("無効な自動投稿間隔です: %d分", minutes),
		Category: "validation",
		Action:   "間隔は1分以上で指定してください。",
	}
}

// NewRunInProgressError は実行中パイプラインとの多重起動エラーを生成する。
func NewRunInProgressError() *APIError {
	return &APIError{
		Code:     ErrCodeRunInProgress,
		Message:  "投稿パイプラインは既に実行中です。",
		Category: "system",
		Action:   "実行中のサイクルが完了してから再度お試しください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを設定してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "http:// または https:// で始まる正しいURLを指定してください。",
	}
}
