package consts

import "errors"

var (
	ErrMailboxNotFound  = errors.New("mailbox not found")
	ErrMailboxExists    = errors.New("mailbox already exists")
	ErrUserNotFound     = errors.New("user not found")
	ErrMessageNotFound  = errors.New("message not found")
	ErrInternalError    = errors.New("internal error")
	ErrNotPermitted     = errors.New("operation not permitted")
	ErrMalformedMessage = errors.New("malformed message")

	ErrAuthFailed   = errors.New("authentication failed")
	ErrAuthRequired = errors.New("authentication required")

	ErrMessageTooLarge = errors.New("message too large")
	ErrServerClosed    = errors.New("server closed")
)
