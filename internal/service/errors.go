package service

import (
	"errors"
	"fmt"
)

// 错误分类，handler 根据 errors.Is 命中的类别映射 HTTP 状态码。
var (
	ErrValidation    = errors.New("validation error")
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrStore         = errors.New("store error")
)

// Error 是带分类的业务错误，Error() 返回可直接展示给调用方的信息。
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }
func (e *Error) Unwrap() error { return e.Kind }

var (
	ErrRoomNotFound   = &Error{Kind: ErrNotFound, Msg: "room not found"}
	ErrTicketNotFound = &Error{Kind: ErrNotFound, Msg: "ticket not found"}
	ErrFileNotFound   = &Error{Kind: ErrNotFound, Msg: "file not found"}
	ErrNotAdmin       = &Error{Kind: ErrForbidden, Msg: "only the room admin can do this"}
	ErrNotOwner       = &Error{Kind: ErrForbidden, Msg: "only the owner or the room admin can do this"}
	ErrRoomFull       = &Error{Kind: ErrQuotaExceeded, Msg: "room storage quota exceeded"}
	ErrFileTooLarge   = &Error{Kind: ErrQuotaExceeded, Msg: "file too large"}
	ErrSizeMismatch   = &Error{Kind: ErrValidation, Msg: "file size does not match its content"}
)

func missing(field string) error {
	return &Error{Kind: ErrValidation, Msg: field + " is required"}
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}
