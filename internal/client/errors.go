package client

import "errors"

// 对外动作接口的通用错误，调用方据此决定提示还是重试。
var (
	ErrNotJoined          = errors.New("client: not joined to a room")
	ErrSessionClosed      = errors.New("client: session closed")
	ErrVersionMismatch    = errors.New("client: server build does not match client build")
	ErrRateLimited        = errors.New("client: outbound rate limit exceeded")
	ErrEmptyMessage       = errors.New("client: message text is empty")
	ErrMessageTooLong     = errors.New("client: message text exceeds limit")
	ErrDescriptionTooLong = errors.New("client: room description exceeds limit")
	ErrInvalidUserName    = errors.New("client: user name length out of range")
	ErrUnknownMessage     = errors.New("client: no such message")
	ErrNotOwnMessage      = errors.New("client: message belongs to another user")
	ErrNotRoomCreator     = errors.New("client: only the room creator may do this")
)
