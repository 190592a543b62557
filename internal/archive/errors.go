package archive

import "errors"

var (
	ErrNotFound         = errors.New("archived session not found")
	ErrInvalidStoreType = errors.New("invalid archive store type")
	ErrInvalidConfig    = errors.New("invalid archive store configuration")
	ErrClosed           = errors.New("archive store is closed")
)
