package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Subjects used on the ephemeral bus (v1).
const (
	SubjectSessionStarted = "agent.voice.session.started"
	SubjectTrackPublished = "agent.voice.track.published"
	SubjectBrainRequest   = "agent.brain.request"
	SubjectHeartbeat      = "system.health.heartbeat"
)

// ErrInvalidSubject is returned when a subject falls outside the allowed
// prefix set. Publishing to such a subject is a programmer error and is
// rejected before anything touches the wire.
var ErrInvalidSubject = errors.New("invalid subject")

// validSubjectPrefixes is the complete set of allowed subject namespaces.
var validSubjectPrefixes = []string{
	"agent.voice.",
	"agent.brain.",
	"agent.tts.",
	"agent.stt.",
	"system.health.",
	"system.service.",
}

// ValidateSubject succeeds iff subject starts with one of the allowed
// prefixes and names at least one token after it. Wildcard subscriptions
// under a valid prefix pass unchanged.
func ValidateSubject(subject string) error {
	for _, prefix := range validSubjectPrefixes {
		if strings.HasPrefix(subject, prefix) && len(subject) > len(prefix) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q (allowed prefixes: %s)",
		ErrInvalidSubject, subject, strings.Join(validSubjectPrefixes, ", "))
}

// SubjectLeaf returns the last dot-separated token of a subject, used as
// the default event type for messages published to it.
func SubjectLeaf(subject string) string {
	idx := strings.LastIndex(subject, ".")
	if idx < 0 {
		return subject
	}
	return subject[idx+1:]
}
