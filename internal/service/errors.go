package service

import "errors"

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidSession      = errors.New("invalid or expired code")
	ErrExchangeFailed      = errors.New("token exchange failed")
	ErrCodeAlreadyRedeemed = errors.New("authorization code already redeemed")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrRoleSyncDenied      = errors.New("role sync denied")
	ErrEmailThrottled      = errors.New("email sent too recently")
	ErrInvalidEmailCode    = errors.New("expired or invalid code")
	ErrEmailNotEligible    = errors.New("email not eligible for verification")
	ErrUnknownLabUser      = errors.New("unknown lab username")
	ErrNotConfigured       = errors.New("feature not configured")
	ErrUserNotFound        = errors.New("user not found")
)
