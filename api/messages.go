package api

import (
	"net/http"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Messages shown to the end user by the client. The constants are the
// English text and the catalog keys.
const (
	msgChallengeExpired = "challenge expired, please refresh"
	msgSceneMismatch    = "challenge does not belong to this scene"
	msgTooManyAttempts  = "too many attempts, please refresh"
	msgTooFast          = "drag was too fast, please try again"
	msgAbnormalTrail    = "abnormal drag trail detected"
	msgNotAligned       = "puzzle piece is not aligned, please try again"
	msgIssueLimited     = "too many challenges requested, please wait"
	msgLockedOut        = "too many failed verifications, please wait"
	msgSummary          = "Verification passed in %.2fs"
)

var supportedLanguages = []language.Tag{language.English, language.SimplifiedChinese}

var (
	messages        = catalog.NewBuilder(catalog.Fallback(language.English))
	languageMatcher = language.NewMatcher(supportedLanguages)
)

func init() {
	zh := language.SimplifiedChinese
	for key, text := range map[string]string{
		msgChallengeExpired: "验证码已过期，请刷新",
		msgSceneMismatch:    "验证码与当前场景不匹配",
		msgTooManyAttempts:  "尝试次数过多，请刷新",
		msgTooFast:          "拖动太快了，请重试",
		msgAbnormalTrail:    "拖动轨迹异常",
		msgNotAligned:       "拼图未对齐，请重试",
		msgIssueLimited:     "获取验证码过于频繁，请稍后再试",
		msgLockedOut:        "验证失败次数过多，请稍后再试",
		msgSummary:          "验证通过，用时 %.2f 秒",
	} {
		_ = messages.SetString(zh, key, text)
	}
}

// newPrinter returns a printer over the service catalog for tag.
func newPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag, message.Catalog(messages))
}

// requestPrinter picks the best supported language from the request's
// Accept-Language header, falling back to English.
func requestPrinter(r *http.Request) *message.Printer {
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return newPrinter(language.English)
	}
	_, idx, _ := languageMatcher.Match(tags...)
	return newPrinter(supportedLanguages[idx])
}

func summaryText(p *message.Printer, durationMs int64) string {
	return p.Sprintf(msgSummary, (time.Duration(durationMs) * time.Millisecond).Seconds())
}
