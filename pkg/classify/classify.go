// Package classify maps failure text to remediation classes. Two separate
// classifiers live here: Failure buckets infrastructure-level task failures,
// ModelError buckets remote-model call failures. They are deliberately not
// merged: a network outage and a malformed model response need different
// remediation, and confusing them would retry the wrong thing.
package classify

import (
	"math"
	"strings"
	"time"

	"warden/pkg/protocol"
)

// networkMarkers match connection-refused, 5xx, and generic network failure
// phrasing. Checked first.
var networkMarkers = []string{
	"econnrefused",
	"econnreset",
	"connection refused",
	"connection reset",
	"socket hang up",
	"network",
	"dns",
	"enotfound",
	"502",
	"503",
	"504",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
}

// rateLimitMarkers match explicit rate-limit phrasing.
var rateLimitMarkers = []string{
	"rate limit",
	"rate-limit",
	"ratelimit",
	"too many requests",
}

// resourceMarkers match out-of-memory and out-of-disk phrasing.
var resourceMarkers = []string{
	"out of memory",
	"oom",
	"enomem",
	"enospc",
	"no space left",
	"disk full",
	"out of disk",
}

// Failure classifies an infrastructure-level task failure message. Rules are
// ordered; anything unmatched, including empty input, is TASK_ERROR; the
// default class, never an error itself.
func Failure(msg string) protocol.FailureClass {
	m := strings.ToLower(msg)
	if m == "" {
		return protocol.FailureTaskError
	}
	if matchAny(m, networkMarkers) {
		return protocol.FailureNetwork
	}
	if matchAny(m, rateLimitMarkers) {
		return protocol.FailureRateLimit
	}
	if matchAny(m, resourceMarkers) {
		return protocol.FailureResource
	}
	return protocol.FailureTaskError
}

// FailureFromError classifies an error value. A nil error is TASK_ERROR.
func FailureFromError(err error) protocol.FailureClass {
	if err == nil {
		return protocol.FailureTaskError
	}
	return Failure(err.Error())
}

// apiErrorMarkers match upstream API failures: 429, connection refused, 5xx,
// missing credentials, exhausted quota.
var apiErrorMarkers = []string{
	"429",
	"too many requests",
	"rate limit",
	"econnrefused",
	"connection refused",
	"500",
	"502",
	"503",
	"504",
	"internal server error",
	"bad gateway",
	"service unavailable",
	"api key",
	"credential",
	"unauthorized",
	"quota",
}

// timeoutMarkers match timeout and abort phrasing.
var timeoutMarkers = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"abort",
	"cancelled",
	"canceled",
}

// badOutputMarkers match JSON-parse and schema-validation phrasing.
var badOutputMarkers = []string{
	"json",
	"parse",
	"unexpected token",
	"schema",
	"validation",
	"unmarshal",
}

// ModelError classifies a remote-model call failure message. Rules are
// ordered: API errors, then timeouts, then malformed output. Empty input is
// BAD_OUTPUT: a model call that produced nothing produced bad output.
func ModelError(msg string) protocol.ModelErrorClass {
	m := strings.ToLower(msg)
	if m == "" {
		return protocol.ModelBadOutput
	}
	if matchAny(m, apiErrorMarkers) {
		return protocol.ModelAPIError
	}
	if matchAny(m, timeoutMarkers) {
		return protocol.ModelTimeout
	}
	if matchAny(m, badOutputMarkers) {
		return protocol.ModelBadOutput
	}
	return protocol.ModelBadOutput
}

// ModelErrorFromError classifies an error value. A nil error is BAD_OUTPUT.
func ModelErrorFromError(err error) protocol.ModelErrorClass {
	if err == nil {
		return protocol.ModelBadOutput
	}
	return ModelError(err.Error())
}

func matchAny(msg string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Backoff bounds for retry scheduling.
const (
	backoffBase = 60 * time.Second
	backoffCap  = 1800 * time.Second
)

// Backoff returns the exponential requeue delay for the given retry count:
// min(2^retryCount * 60, 1800) seconds.
func Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	secs := math.Pow(2, float64(retryCount)) * backoffBase.Seconds()
	d := time.Duration(secs) * time.Second
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// NextRetryAt resolves when a failed task may run again. An explicit
// strategy time wins; otherwise exponential backoff from now applies. A
// strategy with ShouldRetry=false is terminal and returns ok=false.
func NextRetryAt(now time.Time, strategy *protocol.RetryStrategy, retryCount int) (time.Time, bool) {
	if strategy != nil && !strategy.ShouldRetry {
		return time.Time{}, false
	}
	if strategy != nil && strategy.NextRunAt != nil {
		return *strategy.NextRunAt, true
	}
	return now.Add(Backoff(retryCount)), true
}
