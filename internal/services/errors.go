// Package services holds the promo bot business logic: the promo engine,
// session handling and the reminder scheduler.
//
// This file centralizes service-level error values. Translation into chat
// replies or HTTP status codes happens in the bot and handler layers.
package services

import "errors"

var (
	// ErrInvalidPhone is returned when a login message does not contain a
	// recognizable phone number.
	ErrInvalidPhone = errors.New("invalid phone number")

	// ErrMemberNotFound is returned when the phone is not in the roster.
	ErrMemberNotFound = errors.New("phone not found in roster")

	// ErrNoSession is returned by operations that require a logged-in chat.
	ErrNoSession = errors.New("no session for chat")
)

// ErrRunInProgress is returned when a reminder scan is requested while
// another one is still running.
var ErrRunInProgress = errors.New("reminder run already in progress")
