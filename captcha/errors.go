package captcha

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrChallengeIssuance indicates the service could not issue a challenge.
	ErrChallengeIssuance = errors.New("captcha: challenge issuance failed")
	// ErrChallengeDataIncomplete indicates an issuance response missing a
	// required field. Errors carrying it also match ErrChallengeIssuance.
	ErrChallengeDataIncomplete = errors.New("captcha: challenge data incomplete")
	// ErrChallengeMissing indicates a verification with no live challenge.
	ErrChallengeMissing = errors.New("captcha: no live challenge")
	// ErrDurationTooShort indicates a drag faster than the challenge allows.
	ErrDurationTooShort = errors.New("captcha: interaction duration too short")
	// ErrVerificationFailed indicates the service rejected the attempt.
	ErrVerificationFailed = errors.New("captcha: verification failed")
	// ErrVerificationInProgress is returned for drags completed while a
	// previous attempt is still being verified.
	ErrVerificationInProgress = errors.New("captcha: verification already in progress")
	// ErrFlowClosed indicates the host was closed, or the result arrived after it was.
	ErrFlowClosed = errors.New("captcha: flow closed")
)

// RemoteError is a non-success answer from the verification service.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("captcha service: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("captcha service: %d: %s", e.StatusCode, e.Message)
}

// VerificationError is returned when the authoritative check did not yield a
// token. Message holds the service's human-readable reason, if it sent one.
type VerificationError struct {
	Message string
	Err     error
}

func (e *VerificationError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", ErrVerificationFailed, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%v: %s", ErrVerificationFailed, e.Message)
	default:
		return ErrVerificationFailed.Error()
	}
}

func (e *VerificationError) Is(target error) bool { return target == ErrVerificationFailed }

func (e *VerificationError) Unwrap() error { return e.Err }

// Remote reports whether the service itself rejected the attempt, as opposed
// to the request never getting an answer.
func (e *VerificationError) Remote() bool {
	if e.Err == nil {
		return true
	}
	var re *RemoteError
	return errors.As(e.Err, &re)
}

func newVerificationError(err error) *VerificationError {
	ve := &VerificationError{Err: err}
	var re *RemoteError
	if errors.As(err, &re) {
		ve.Message = re.Message
	}
	return ve
}
