package captcha

import (
	"errors"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Message keys, also the English text.
const (
	msgIssueFailed     = "Could not load the puzzle. Please try again."
	msgTooFast         = "That was too fast. Please drag the slider again."
	msgVerifyFailed    = "Verification failed. Please try again."
	msgNoChallenge     = "The puzzle has expired. A new one has been loaded."
	msgNetwork         = "Network error. Please check your connection."
	msgVerifiedSummary = "Verification passed"
)

func init() {
	zh := language.SimplifiedChinese
	_ = message.SetString(zh, msgIssueFailed, "验证码加载失败，请重试")
	_ = message.SetString(zh, msgTooFast, "拖动太快了，请重新拖动滑块")
	_ = message.SetString(zh, msgVerifyFailed, "验证失败，请重试")
	_ = message.SetString(zh, msgNoChallenge, "验证码已失效，已为您刷新")
	_ = message.SetString(zh, msgNetwork, "网络异常，请检查网络连接")
	_ = message.SetString(zh, msgVerifiedSummary, "验证通过")
}

// userMessage maps a flow error to the text shown inside the modal. The
// service's own reason wins when it sent one.
func userMessage(p *message.Printer, err error) string {
	var ve *VerificationError
	switch {
	case errors.As(err, &ve):
		if ve.Message != "" {
			return ve.Message
		}
		if !ve.Remote() {
			return p.Sprintf(msgNetwork)
		}
		return p.Sprintf(msgVerifyFailed)
	case errors.Is(err, ErrDurationTooShort):
		return p.Sprintf(msgTooFast)
	case errors.Is(err, ErrChallengeMissing):
		return p.Sprintf(msgNoChallenge)
	case errors.Is(err, ErrChallengeIssuance):
		var re *RemoteError
		if errors.As(err, &re) && re.Message != "" {
			return re.Message
		}
		return p.Sprintf(msgIssueFailed)
	default:
		return p.Sprintf(msgVerifyFailed)
	}
}
