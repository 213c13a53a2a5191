package service

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput 客户端输入不合法（400）
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound 目标不存在（404）
	ErrNotFound = errors.New("not found")
	// ErrStoreUnavailable 存储访问失败（500，不重试）
	ErrStoreUnavailable = errors.New("store unavailable")
)

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
