package domain

import "errors"

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobBusy           = errors.New("generation already in flight")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrEmptyTheme        = errors.New("theme must not be empty")
	ErrEmptyVideoPrompt  = errors.New("video prompt must not be empty")
	ErrUnsupportedMode   = errors.New("unsupported generation mode")
	ErrNotTerminal       = errors.New("job is not in a terminal state")
	ErrNoVideoInFlight   = errors.New("no video generation in flight")
	ErrVideoNoResult     = errors.New("video finished but no result was retrievable")
)
