package models

import "errors"

// Errors shared by every repository implementation.
var (
	ErrNotFound          = errors.New("record not found")
	ErrStaleStatus       = errors.New("status changed concurrently")
	ErrDuplicatePending  = errors.New("pending approval already exists for file and approver")
	ErrInsufficientFunds = errors.New("insufficient available balance")
	ErrDuplicateFile     = errors.New("file with identical content already uploaded")
	ErrDuplicateUser     = errors.New("username already exists")
)
