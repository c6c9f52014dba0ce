package api

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmcleod/slidergate/captcha"
)

// ScenePolicy holds the per-scene knobs of the service.
type ScenePolicy struct {
	// MinDuration is the shortest drag accepted, also sent to clients as
	// min_duration_ms.
	MinDuration time.Duration `yaml:"min_duration"`
	// Tolerance is the allowed distance in pixels between the slider offset
	// and the hidden target.
	Tolerance float64 `yaml:"tolerance"`
	// ChallengeTTL bounds how long an issued challenge can be verified.
	ChallengeTTL time.Duration `yaml:"challenge_ttl"`
	// MaxAttempts is the number of verifications allowed per challenge.
	MaxAttempts int `yaml:"max_attempts"`
	// TokenTTL is the validity of a captcha token after a successful verify.
	TokenTTL time.Duration `yaml:"token_ttl"`

	CanvasWidth  int `yaml:"canvas_width"`
	CanvasHeight int `yaml:"canvas_height"`
	PieceWidth   int `yaml:"piece_width"`

	// IssueLimit challenges may be issued per client and scene within
	// IssueWindow.
	IssueLimit  int           `yaml:"issue_limit"`
	IssueWindow time.Duration `yaml:"issue_window"`
}

// DefaultScenePolicy is used for every scene that does not override it.
var DefaultScenePolicy = ScenePolicy{
	MinDuration:  220 * time.Millisecond,
	Tolerance:    6,
	ChallengeTTL: 2 * time.Minute,
	MaxAttempts:  5,
	TokenTTL:     2 * time.Minute,
	CanvasWidth:  310,
	CanvasHeight: 155,
	PieceWidth:   42,
	IssueLimit:   30,
	IssueWindow:  time.Minute,
}

// DefaultScenePolicies enables the built-in scenes with DefaultScenePolicy.
func DefaultScenePolicies() map[captcha.Scene]ScenePolicy {
	return map[captcha.Scene]ScenePolicy{
		captcha.SceneLogin:         DefaultScenePolicy,
		captcha.SceneRegister:      DefaultScenePolicy,
		captcha.SceneResetPassword: DefaultScenePolicy,
	}
}

// LoadScenePolicies reads a YAML file mapping scene names to policies.
// Fields left out of a scene fall back to DefaultScenePolicy. Only the
// scenes listed in the file are enabled.
//
//	login:
//	  min_duration: 300ms
//	  max_attempts: 3
//	register: {}
func LoadScenePolicies(path string) (map[captcha.Scene]ScenePolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scene policies: %w", err)
	}
	return ParseScenePolicies(data)
}

// ParseScenePolicies is LoadScenePolicies on an in-memory document.
func ParseScenePolicies(data []byte) (map[captcha.Scene]ScenePolicy, error) {
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing scene policies: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("scene policies: no scenes defined")
	}

	out := make(map[captcha.Scene]ScenePolicy, len(raw))
	for name, node := range raw {
		scene := captcha.NormalizeScene(name)
		if scene == "" {
			return nil, fmt.Errorf("scene policies: empty scene name")
		}
		pol := DefaultScenePolicy
		if err := node.Decode(&pol); err != nil {
			return nil, fmt.Errorf("scene %s: %w", scene, err)
		}
		if err := pol.validate(); err != nil {
			return nil, fmt.Errorf("scene %s: %w", scene, err)
		}
		out[scene] = pol
	}
	return out, nil
}

func (p ScenePolicy) validate() error {
	switch {
	case p.MinDuration < 0:
		return fmt.Errorf("min_duration must not be negative")
	case p.Tolerance <= 0:
		return fmt.Errorf("tolerance must be positive")
	case p.ChallengeTTL <= 0 || p.TokenTTL <= 0:
		return fmt.Errorf("challenge_ttl and token_ttl must be positive")
	case p.MaxAttempts < 1:
		return fmt.Errorf("max_attempts must be at least 1")
	case p.PieceWidth <= 0 || p.CanvasHeight < p.PieceWidth:
		return fmt.Errorf("piece_width must be positive and fit canvas_height")
	case p.CanvasWidth < 2*(p.PieceWidth+targetMargin)+1:
		return fmt.Errorf("canvas_width too small for piece_width")
	case p.IssueLimit < 1 || p.IssueWindow <= 0:
		return fmt.Errorf("issue_limit and issue_window must be positive")
	}
	return nil
}
