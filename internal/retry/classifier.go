package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/lib/pq"
)

// classificationRules are evaluated in order; the first match wins. Timeout
// phrases run before database phrases, so an error mentioning both is
// classified as a timeout. That tie-break is deliberate: a query that timed
// out is a latency problem, not a datastore problem, and backs off
// differently.
var classificationRules = []struct {
	failureType FailureType
	patterns    []string
}{
	{FailureTimeout, []string{
		"timeout", "timed out", "deadline exceeded",
	}},
	{FailureNetwork, []string{
		"connection refused", "connection reset", "connection closed",
		"broken pipe", "no such host", "dns", "network is unreachable",
		"network error", "unreachable", "tls handshake",
	}},
	{FailureRateLimit, []string{
		"rate limit", "rate_limit", "quota exceeded", "too many requests",
		"429",
	}},
	{FailureAIService, []string{
		"openai", "anthropic", "whisper", "llm service", "ai service",
		"model overloaded", "completion request", "api key",
	}},
	{FailureDatabase, []string{
		"database", "postgres", "sql", "deadlock", "duplicate key",
		"constraint", "connection pool", "relation",
	}},
	{FailureMemory, []string{
		"out of memory", "memory", "cannot allocate", "oom",
	}},
	{FailureValidation, []string{
		"validation", "invalid", "schema", "malformed", "unmarshal",
		"cannot parse", "missing required", "unprocessable",
	}},
}

// Classify maps an arbitrary error to a FailureType. Pure function, no I/O.
// Typed errors are checked first, then substrings of the lowercased message
// and the error's Go type name.
func Classify(err error) FailureType {
	if err == nil {
		return FailureUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return FailureTimeout
		}
		return FailureNetwork
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return FailureDatabase
	}

	haystack := strings.ToLower(err.Error() + " " + fmt.Sprintf("%T", err))
	for _, rule := range classificationRules {
		for _, p := range rule.patterns {
			if strings.Contains(haystack, p) {
				return rule.failureType
			}
		}
	}
	return FailureUnknown
}
