package captcha

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Scene scopes a challenge, its rate limits and the resulting token to one
// sensitive action.
type Scene string

const (
	SceneLogin         Scene = "login"
	SceneRegister      Scene = "register"
	SceneResetPassword Scene = "reset_password"
)

var sceneFolder = cases.Fold()

// NormalizeScene canonicalises a scene tag received from outside the process
// (NFKC, case-folded, trimmed) so that "Login" and "login" scope the same
// challenges.
func NormalizeScene(s string) Scene {
	return Scene(sceneFolder.String(norm.NFKC.String(strings.TrimSpace(s))))
}

func (s Scene) String() string { return string(s) }

// Challenge is a server-issued puzzle instance. It is single use: exactly one
// of consumption, discard or server-side expiry ends it.
type Challenge struct {
	ID                     string
	Scene                  Scene
	BackgroundImageRef     string
	PuzzleImageRef         string
	CanvasWidth            int
	CanvasHeight           int
	PuzzlePieceWidth       int
	MinInteractionDuration time.Duration
}

// Puzzle returns the public part of the challenge needed to render it.
func (c Challenge) Puzzle() Puzzle {
	return Puzzle{
		BackgroundImageRef:     c.BackgroundImageRef,
		PuzzleImageRef:         c.PuzzleImageRef,
		CanvasWidth:            c.CanvasWidth,
		CanvasHeight:           c.CanvasHeight,
		PuzzlePieceWidth:       c.PuzzlePieceWidth,
		MinInteractionDuration: c.MinInteractionDuration,
	}
}

// Puzzle is what the Broker hands to the renderer. It deliberately omits the
// challenge id, which stays inside the Lifecycle.
type Puzzle struct {
	BackgroundImageRef     string
	PuzzleImageRef         string
	CanvasWidth            int
	CanvasHeight           int
	PuzzlePieceWidth       int
	MinInteractionDuration time.Duration
}

// Attempt is one completed drag gesture. Trail holds the raw pointer samples
// as captured; it is sampled at submission time.
type Attempt struct {
	ReleaseX      float64
	ReleaseY      float64
	SliderOffsetX float64
	Duration      time.Duration
	Trail         [][]float64
}

// Point is one sampled pointer position. It encodes as a JSON [x, y] pair.
type Point [2]float64

func (p Point) X() float64 { return p[0] }
func (p Point) Y() float64 { return p[1] }

// Token is the proof of a successful verification. It belongs to the caller
// once returned; nothing in this package keeps or reuses it.
type Token struct {
	Value       string
	Scene       Scene
	SummaryText string
}
