package cmd

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/slidergate/api"
	"github.com/jmcleod/slidergate/captcha"
	"github.com/jmcleod/slidergate/storage/memory"
)

func TestSyntheticDrag(t *testing.T) {
	trail := syntheticDrag(150, 800*time.Millisecond)
	require.Len(t, trail, 51)
	assert.Equal(t, 0.0, trail[0][0])
	assert.Equal(t, 150.0, trail[len(trail)-1][0])

	sampled := captcha.SampleTrail(trail)
	assert.Len(t, sampled, 26)
	assert.LessOrEqual(t, int64(len(sampled)), int64(800))

	assert.Len(t, syntheticDrag(10, time.Millisecond), 3)
}

func TestRunProbeAgainstService(t *testing.T) {
	a, err := api.New(memory.NewRepository(), api.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	defer a.Close()
	r := chi.NewRouter()
	r.Mount("/api/v1", a.Router())
	srv := httptest.NewServer(r)
	defer srv.Close()

	base := srv.URL + "/api/v1"
	f := captcha.NewFlow(captcha.SceneLogin, captcha.NewHTTPService(base, srv.Client()),
		captcha.WithLogger(slog.New(slog.DiscardHandler)))
	defer f.Destroy()

	res := runProbe(t.Context(), f, captcha.SceneLogin, base, -1, 900*time.Millisecond)
	assert.Equal(t, "login", res.Scene)
	assert.Equal(t, 134.0, res.Offset)
	assert.Equal(t, int64(900), res.DurationMs)
	assert.True(t, strings.HasPrefix(res.ChallengeBg, srv.URL+"/captcha/img/"), res.ChallengeBg)

	// The target is random, so either outcome is valid.
	if res.Success {
		assert.NotEmpty(t, res.Token)
		assert.Equal(t, "success", res.State)
	} else {
		assert.NotEmpty(t, res.Error)
		assert.Equal(t, "ready", res.State)
	}
}

func TestRunProbeUnreachable(t *testing.T) {
	srv := httptest.NewServer(nil)
	base := srv.URL
	srv.Close()

	f := captcha.NewFlow(captcha.SceneLogin, captcha.NewHTTPService(base, nil),
		captcha.WithLogger(slog.New(slog.DiscardHandler)))
	defer f.Destroy()

	res := runProbe(t.Context(), f, captcha.SceneLogin, base, 100, time.Second)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, "error", res.State)
}

func TestPrintProbe(t *testing.T) {
	res := probeResult{Scene: "login", Offset: 120, DurationMs: 700, Success: true, Token: "tok", Summary: "ok", State: "success"}

	var text bytes.Buffer
	require.NoError(t, printProbe(&text, res, false))
	assert.Contains(t, text.String(), "result:   passed (ok)")
	assert.Contains(t, text.String(), "token:    tok")

	var js bytes.Buffer
	require.NoError(t, printProbe(&js, res, true))
	var got probeResult
	require.NoError(t, json.Unmarshal(js.Bytes(), &got))
	assert.Equal(t, res, got)
}
