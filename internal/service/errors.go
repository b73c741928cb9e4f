package service

import "errors"

// 业务层通用错误，handler 可根据错误类型映射到合适的 HTTP 状态码。
var (
	ErrMobileTaken        = errors.New("mobile number already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidOTP         = errors.New("invalid or expired otp")
	ErrChatroomNotFound   = errors.New("chatroom not found")
	ErrNoSubscription     = errors.New("no subscription found")
	ErrTierNotPurchasable = errors.New("tier has no purchasable plan")
)
