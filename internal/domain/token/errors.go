package token

import "errors"

var (
	ErrInvalidCode        = errors.New("invalid token code")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrTokenNotFound      = errors.New("token not found")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenAlreadyUsed   = errors.New("token already used")
	ErrMerchantInactive   = errors.New("merchant is inactive")
	ErrForbidden          = errors.New("merchant belongs to another user")
	ErrCodeCollision      = errors.New("token code collision")
	ErrCodeSpaceExhausted = errors.New("could not allocate a unique token code")
)
