package core

import (
	"math/rand"
	"strings"
	"time"
)

// ErrorKind is the recoverable-error taxonomy. The zero value is
// ErrorKindRateLimit, so Kind alone cannot signal NonRecoverable — use
// Classification.Recoverable to test for it.
type ErrorKind int

const (
	ErrorKindRateLimit ErrorKind = iota
	ErrorKindTimeout
	ErrorKindServerError
	ErrorKindNetworkError
	ErrorKindModelBusy
	ErrorKindTokenLimit
	ErrorKindContextLengthExceeded
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindRateLimit:
		return "rate limit"
	case ErrorKindTimeout:
		return "timeout"
	case ErrorKindServerError:
		return "server error"
	case ErrorKindNetworkError:
		return "network error"
	case ErrorKindModelBusy:
		return "model busy"
	case ErrorKindTokenLimit:
		return "token limit"
	case ErrorKindContextLengthExceeded:
		return "context length exceeded"
	default:
		return "unknown"
	}
}

// Classification is the result of classifying a provider error.
type Classification struct {
	Recoverable bool
	Kind        ErrorKind // meaningful only when Recoverable
}

// Classify maps a provider error to a Classification by keyword-matching
// the lowercased error message. Precedence is fixed and deliberate: a
// message that mentions both rate-limiting and a timeout classifies as
// RateLimit; a message that mentions "connection timeout" classifies as
// NetworkError, not Timeout, because "connection" is checked first.
//
// Grounded on providers/bedrock/bedrock.go's classifyErr, which performs
// the same kind of error-code/message switch for AWS API errors; this
// generalizes that pattern to any provider's plain-text error message.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Recoverable: false}
	}
	msg := strings.ToLower(err.Error())
	if msg == "" {
		return Classification{Recoverable: false}
	}

	switch {
	case containsAny(msg, "rate limit", "429"):
		return Classification{Recoverable: true, Kind: ErrorKindRateLimit}
	case strings.Contains(msg, "connection"):
		return Classification{Recoverable: true, Kind: ErrorKindNetworkError}
	case containsAny(msg, "timeout", "timed out"):
		return Classification{Recoverable: true, Kind: ErrorKindTimeout}
	case containsAny(msg, "500", "502", "503", "server error", "bad gateway", "service unavailable"):
		return Classification{Recoverable: true, Kind: ErrorKindServerError}
	case containsAny(msg, "busy", "overloaded"):
		return Classification{Recoverable: true, Kind: ErrorKindModelBusy}
	case strings.Contains(msg, "400") && containsAny(msg, "context length", "context window", "maximum context"):
		return Classification{Recoverable: true, Kind: ErrorKindContextLengthExceeded}
	case strings.Contains(msg, "token") && containsAny(msg, "limit", "exceeded"):
		return Classification{Recoverable: true, Kind: ErrorKindTokenLimit}
	case containsAny(msg, "401", "403", "invalid api key", "authentication", "forbidden"):
		return Classification{Recoverable: false}
	default:
		return Classification{Recoverable: false}
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// RetryMode selects which backoff profile BackoffDelay uses.
type RetryMode int

const (
	RetryModeInteractive RetryMode = iota
	RetryModeAutonomous
)

// BackoffDelay computes the sleep duration before retry attempt number
// attempt (0-indexed). Interactive mode grows exponentially off a 500ms
// base, capped at 15s; autonomous mode spreads retries across roughly ten
// minutes, capped at 300s. Both profiles apply uniform jitter.
func BackoffDelay(attempt int, mode RetryMode, maxRetries int) time.Duration {
	switch mode {
	case RetryModeAutonomous:
		return autonomousBackoff(attempt, maxRetries)
	default:
		return interactiveBackoff(attempt)
	}
}

const (
	interactiveBase = 500 * time.Millisecond
	interactiveCap  = 15 * time.Second
	autonomousCap   = 300 * time.Second
	autonomousSpan  = 10 * time.Minute
)

func interactiveBackoff(attempt int) time.Duration {
	base := interactiveBase
	for i := 0; i < attempt; i++ {
		base *= 2
		if base >= interactiveCap {
			base = interactiveCap
			break
		}
	}
	d := withJitter(base, 0.25, interactiveCap)
	if d < interactiveBase {
		d = interactiveBase
	}
	return d
}

func autonomousBackoff(attempt int, maxRetries int) time.Duration {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	// Linear growth (step, 2*step, ...) with step chosen so the delays of
	// all maxRetries attempts sum to autonomousSpan.
	step := autonomousSpan / time.Duration(maxRetries*(maxRetries+1)/2)
	base := step * time.Duration(attempt+1)
	return withJitter(base, 0.25, autonomousCap)
}

func withJitter(base time.Duration, frac float64, cap time.Duration) time.Duration {
	if base > cap {
		base = cap
	}
	jitter := (rand.Float64()*2 - 1) * frac * float64(base)
	d := time.Duration(float64(base) + jitter)
	if d > cap {
		d = cap
	}
	if d < 0 {
		d = 0
	}
	return d
}
