package moderation

import "errors"

var (
	ErrUnknownKind = errors.New("unknown synthesis kind")
	ErrEmptyOutput = errors.New("composer produced empty content")
)
