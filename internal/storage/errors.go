package storage

import "errors"

var (
	ErrShortRead      = errors.New("short read from data log")
	ErrMalformedEntry = errors.New("malformed WAL entry")
	ErrNoSnapshot     = errors.New("no index snapshot on disk")
)
