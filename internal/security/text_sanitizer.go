// Package security は入力の無害化と外部送信先の検証を提供する。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は利用者が入力する自由記述（車両番号・メモ・駐車場名・住所）から
// HTMLを取り除くインターフェース。
type TextSanitizer interface {
	// Clean はタグと制御文字を除去し、前後の空白を削った平文を返す。
	Clean(raw string) string
}

// textSanitizer はbluemondayのStrictPolicyによるTextSanitizer実装。
// Policyはゴルーチンセーフなので共有して使う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Clean はタグを除去した平文を返す。
// StrictPolicyが出力するエンティティは元の文字に戻して保存する。
func (s *textSanitizer) Clean(raw string) string {
	stripped := html.UnescapeString(s.policy.Sanitize(raw))
	stripped = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, stripped)
	return strings.TrimSpace(stripped)
}

// compile-time interface check
var _ TextSanitizer = (*textSanitizer)(nil)
