package captcha

// Envelope wraps every response body of the verification service. Data is a
// pointer so that an absent payload can be told apart from a zero one.
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    *T     `json:"data"`
}

// IssueRequest is the JSON body for POST /captcha/slider/issue.
type IssueRequest struct {
	Scene Scene `json:"scene"`
}

// IssueData is the payload returned from POST /captcha/slider/issue.
type IssueData struct {
	ChallengeID string      `json:"challenge_id"`
	BgURL       string      `json:"bg_url"`
	PuzzleURL   string      `json:"puzzle_url"`
	Slider      *SliderSpec `json:"slider"`
}

// SliderSpec describes the interactive surface of a challenge.
type SliderSpec struct {
	Width         int   `json:"width"`
	Height        int   `json:"height"`
	PuzzleWidth   int   `json:"puzzle_width"`
	MinDurationMs int64 `json:"min_duration_ms"`
}

// VerifyRequest is the JSON body for POST /captcha/slider/verify.
type VerifyRequest struct {
	ChallengeID   string  `json:"challenge_id"`
	Scene         Scene   `json:"scene"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	SliderOffsetX float64 `json:"slider_offset_x"`
	Duration      int64   `json:"duration"`
	Trail         []Point `json:"trail"`
}

// VerifyData is the payload returned from a successful verification.
type VerifyData struct {
	CaptchaToken string `json:"captcha_token"`
	SummaryText  string `json:"summary_text,omitempty"`
}

// DiscardRequest is the JSON body for POST /captcha/slider/discard.
type DiscardRequest struct {
	ChallengeID string `json:"challenge_id"`
	Scene       Scene  `json:"scene"`
}

// RedeemRequest is the JSON body for POST /captcha/tokens/redeem.
type RedeemRequest struct {
	CaptchaToken string `json:"captcha_token"`
	Scene        Scene  `json:"scene"`
}

// RedeemData is returned once a token has been accepted by the gated action.
type RedeemData struct {
	ChallengeID string `json:"challenge_id"`
	Scene       Scene  `json:"scene"`
}
