package core

import "errors"

var (
	ErrStorageUnavailable      = errors.New("storage unavailable")
	ErrSessionInvalid          = errors.New("session invalid")
	ErrSessionStoreUnavailable = errors.New("session store unavailable")
	ErrInvalidPayload          = errors.New("invalid payload")
	ErrUnknownKind             = errors.New("unknown record kind")
	ErrConnectionClosed        = errors.New("connection closed")
	ErrUserExists              = errors.New("user already exists")
	ErrUserNotFound            = errors.New("user not found")
	ErrInvalidCredentials      = errors.New("invalid credentials")
)
