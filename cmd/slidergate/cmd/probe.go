package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"

	"github.com/jmcleod/slidergate/captcha"
)

var (
	probeURL      string
	probeScene    string
	probeOffset   float64
	probeDuration time.Duration
	probeLang     string
	probeJSON     bool
)

// probeResult is what the probe command reports.
type probeResult struct {
	Scene       string  `json:"scene"`
	ChallengeBg string  `json:"challenge_bg,omitempty"`
	Offset      float64 `json:"offset"`
	DurationMs  int64   `json:"duration_ms"`
	Success     bool    `json:"success"`
	Token       string  `json:"token,omitempty"`
	Summary     string  `json:"summary,omitempty"`
	Error       string  `json:"error,omitempty"`
	State       string  `json:"state"`
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Run one synthetic verification against a captcha service",
	Long: `Opens a verification flow against the service, drags the slider to
--offset over --duration with a jittered trail and prints the outcome.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, err := language.Parse(probeLang)
		if err != nil {
			return fmt.Errorf("invalid --lang: %w", err)
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		logger := slog.New(slog.DiscardHandler)
		if debug {
			logger = newLogger()
		}

		scene := captcha.NormalizeScene(probeScene)
		svc := captcha.NewHTTPService(probeURL, nil, captcha.WithAcceptLanguage(tag))
		f := captcha.NewFlow(scene, svc,
			captcha.WithLogger(logger),
			captcha.WithLanguage(tag))
		defer f.Destroy()

		res := runProbe(ctx, f, scene, probeURL, probeOffset, probeDuration)
		return printProbe(cmd.OutOrStdout(), res, probeJSON)
	},
}

func runProbe(ctx context.Context, f *captcha.Flow, scene captcha.Scene, baseURL string, offset float64, duration time.Duration) (res probeResult) {
	res = probeResult{Scene: string(scene), DurationMs: duration.Milliseconds()}
	defer func() {
		v := f.Snapshot()
		res.State = v.State.String()
		if res.Error == "" && v.ErrorMessage != "" && !res.Success {
			res.Error = v.ErrorMessage
		}
	}()

	err := f.Open(ctx)
	v := f.Snapshot()
	if err != nil || v.Puzzle == nil {
		res.Error = fmt.Sprint(err)
		if v.ErrorMessage != "" {
			res.Error = v.ErrorMessage
		}
		return res
	}
	if bg, err := captcha.ResolveImageRef(baseURL, v.Puzzle.BackgroundImageRef); err == nil {
		res.ChallengeBg = bg
	}
	if offset < 0 {
		offset = float64(v.Puzzle.CanvasWidth-v.Puzzle.PuzzlePieceWidth) / 2
	}
	res.Offset = offset

	tok, err := f.CompleteDrag(ctx, captcha.Attempt{
		ReleaseX:      offset + float64(v.Puzzle.PuzzlePieceWidth)/2,
		ReleaseY:      float64(v.Puzzle.CanvasHeight) / 2,
		SliderOffsetX: offset,
		Duration:      duration,
		Trail:         syntheticDrag(offset, duration),
	})
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.Token = tok.Value
	res.Summary = tok.SummaryText
	return res
}

// syntheticDrag produces an ease-out trail to endX sampled every 16ms, with
// vertical wobble and small horizontal jitter.
func syntheticDrag(endX float64, duration time.Duration) [][]float64 {
	steps := max(int(duration/(16*time.Millisecond)), 2)
	trail := make([][]float64, 0, steps+1)
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := endX * (1 - math.Pow(1-t, 3))
		if i > 0 && i < steps {
			x += rand.Float64()*0.8 - 0.4
		}
		y := math.Round((rand.Float64()*3-1.5)*10) / 10
		trail = append(trail, []float64{math.Round(x*10) / 10, y})
	}
	return trail
}

func printProbe(w io.Writer, res probeResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintf(w, "scene:    %s\n", res.Scene)
	if res.ChallengeBg != "" {
		fmt.Fprintf(w, "image:    %s\n", res.ChallengeBg)
	}
	fmt.Fprintf(w, "drag:     offset %.1f in %dms\n", res.Offset, res.DurationMs)
	fmt.Fprintf(w, "state:    %s\n", res.State)
	if res.Success {
		fmt.Fprintf(w, "result:   passed (%s)\n", res.Summary)
		fmt.Fprintf(w, "token:    %s\n", res.Token)
		return nil
	}
	fmt.Fprintf(w, "result:   failed: %s\n", res.Error)
	return nil
}

func init() {
	rootCmd.AddCommand(probeCmd)
	f := probeCmd.Flags()
	f.StringVar(&probeURL, "url", "http://localhost:8080/api/v1", "Base URL of the captcha API")
	f.StringVar(&probeScene, "scene", string(captcha.SceneLogin), "Scene to verify")
	f.Float64Var(&probeOffset, "offset", -1, "Slider offset to release at (negative centres the piece)")
	f.DurationVar(&probeDuration, "duration", 800*time.Millisecond, "Drag duration")
	f.StringVar(&probeLang, "lang", "en", "Language of user-facing messages")
	f.BoolVar(&probeJSON, "json", false, "Print the result as JSON")
}
