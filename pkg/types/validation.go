package types

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxContentBytes bounds a single chat message
const MaxContentBytes = 4096

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var participantIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidParticipantID checks if a participant ID meets format requirements
func IsValidParticipantID(id string) bool {
	if len(id) < 1 || len(id) > 50 {
		return false
	}
	return participantIDRegex.MatchString(id)
}

// Validate ensures the participant can be placed on a roster
func (p Participant) Validate() error {
	if !IsValidParticipantID(p.ID) {
		return ErrInvalidParticipant
	}
	if p.ID == ModeratorID {
		return NewValidationError("participant", "uses the reserved moderator identity")
	}
	if strings.TrimSpace(p.Name) == "" {
		return NewValidationError("name", "is required")
	}
	return nil
}

// ValidateContent rejects blank, oversized or malformed chat content
func ValidateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if len(content) > MaxContentBytes {
		return ErrContentTooLarge
	}
	if !utf8.ValidString(content) {
		return ErrInvalidContent
	}
	return nil
}

// NormalizeTags trims every tag and drops the blank ones, preserving order
// and removing case-insensitive duplicates
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		key := strings.ToLower(tag)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tag)
	}
	return out
}

// ParseTags splits a comma-separated tag string as entered in a form
func ParseTags(raw string) []string {
	return NormalizeTags(strings.Split(raw, ","))
}
