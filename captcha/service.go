package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

// Service is the authoritative verification service as seen by the client.
type Service interface {
	IssueChallenge(ctx context.Context, req IssueRequest) (*IssueData, error)
	VerifyAttempt(ctx context.Context, req VerifyRequest) (*VerifyData, error)
	DiscardChallenge(ctx context.Context, req DiscardRequest) error
}

const maxResponseBody = 1 << 20

// HTTPService talks to the service over HTTP/JSON.
type HTTPService struct {
	baseURL        string
	client         *http.Client
	acceptLanguage string
}

// HTTPOption configures an HTTPService.
type HTTPOption func(*HTTPService)

// WithAcceptLanguage asks the service for messages in tag.
func WithAcceptLanguage(tag language.Tag) HTTPOption {
	return func(s *HTTPService) {
		if tag != language.Und {
			s.acceptLanguage = tag.String()
		}
	}
}

// NewHTTPService returns a Service rooted at baseURL (for example
// "https://shop.example/api/v1"). A nil client uses http.DefaultClient.
func NewHTTPService(baseURL string, client *http.Client, opts ...HTTPOption) *HTTPService {
	if client == nil {
		client = http.DefaultClient
	}
	s := &HTTPService{baseURL: strings.TrimRight(baseURL, "/"), client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HTTPService) IssueChallenge(ctx context.Context, req IssueRequest) (*IssueData, error) {
	return postJSON[IssueData](ctx, s, "/captcha/slider/issue", req)
}

func (s *HTTPService) VerifyAttempt(ctx context.Context, req VerifyRequest) (*VerifyData, error) {
	return postJSON[VerifyData](ctx, s, "/captcha/slider/verify", req)
}

func (s *HTTPService) DiscardChallenge(ctx context.Context, req DiscardRequest) error {
	_, err := postJSON[json.RawMessage](ctx, s, "/captcha/slider/discard", req)
	return err
}

// RedeemToken spends a captcha token on behalf of the gated action. It is not
// part of the interactive flow; servers guarding an action call it.
func (s *HTTPService) RedeemToken(ctx context.Context, req RedeemRequest) (*RedeemData, error) {
	return postJSON[RedeemData](ctx, s, "/captcha/tokens/redeem", req)
}

func postJSON[T any](ctx context.Context, s *HTTPService, path string, body any) (*T, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.acceptLanguage != "" {
		req.Header.Set("Accept-Language", s.acceptLanguage)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var env Envelope[T]
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return nil, &RemoteError{StatusCode: resp.StatusCode}
		}
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		return nil, &RemoteError{StatusCode: resp.StatusCode, Message: env.Message}
	}
	return env.Data, nil
}
