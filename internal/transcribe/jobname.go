package transcribe

import "strings"

// jobNamePrefix marks transcription jobs started for a review session.
const jobNamePrefix = "cme-"

// JobName is the Transcribe Medical job name for a session.
func JobName(sessionID string) string {
	return jobNamePrefix + sessionID
}

// SessionFromJobName recovers the session ID from a job name. ok is false
// for jobs this pipeline did not start.
func SessionFromJobName(name string) (sessionID string, ok bool) {
	id, ok := strings.CutPrefix(name, jobNamePrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
