// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextRenderer は記事のタイトル・本文（プレーンテキスト）を、
// RSSなどHTMLとして解釈される出力先へ埋め込める断片に変換する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextRendererService はプレーンテキストをHTML断片へ変換する機能のインターフェース。
type TextRendererService interface {
	// Render はテキストをエスケープし、改行を<br>に置き換えたHTMLを返す。
	// 同一入力に対して常に同一出力を返す。
	Render(text string) string
}

// textRenderer はTextRendererServiceの実装。
// bluemondayのポリシーはスレッドセーフなので共有してよい。
type textRenderer struct {
	policy *bluemonday.Policy
}

// NewTextRenderer は<br>のみを許可するTextRendererを生成する。
func NewTextRenderer() *textRenderer {
	p := bluemonday.NewPolicy()
	p.AllowElements("br")
	return &textRenderer{policy: p}
}

// Render はテキストをHTML断片に変換する。
// エスケープ後の文字列をさらにポリシーに通し、<br>以外の要素が残らないことを保証する。
func (r *textRenderer) Render(text string) string {
	if text == "" {
		return ""
	}
	escaped := html.EscapeString(strings.ReplaceAll(text, "\r\n", "\n"))
	return r.policy.Sanitize(strings.ReplaceAll(escaped, "\n", "<br>"))
}

var _ TextRendererService = (*textRenderer)(nil)
