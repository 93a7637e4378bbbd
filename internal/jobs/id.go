// Package jobs generates identifiers for records and executions produced by
// the review pipeline.
package jobs

import "github.com/google/uuid"

// Prefixes used across the pipeline.
const (
	ActionPrefix    = "action-"
	ExecutionPrefix = "cme-"
)

// GenerateID returns prefix followed by a random UUID. The prefix should
// include a trailing dash, e.g. "action-".
func GenerateID(prefix string) string {
	return prefix + uuid.NewString()
}

// ExecutionName builds the Step Functions execution name for a session's
// transcription job. The suffix is a name-based UUID of jobName, so the same
// job always maps to the same execution. Names are limited to 80
// characters; the session part is truncated so the suffix always survives.
func ExecutionName(sessionID, jobName string) string {
	suffix := uuid.NewSHA1(uuid.NameSpaceOID, []byte(jobName)).String()[:8]
	const maxLen = 80
	room := maxLen - len(ExecutionPrefix) - 1 - len(suffix)
	if len(sessionID) > room {
		sessionID = sessionID[:room]
	}
	return ExecutionPrefix + sessionID + "-" + suffix
}
