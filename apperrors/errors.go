package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType 错误类别
type ErrorType string

const (
	ErrorTypeInputMissing ErrorType = "input_missing"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeTooLarge     ErrorType = "too_large"
	ErrorTypeUnsupported  ErrorType = "unsupported"
	ErrorTypeDecode       ErrorType = "decode"
	ErrorTypeEncode       ErrorType = "encode"
	ErrorTypeProcessing   ErrorType = "processing"
	ErrorTypeBusy         ErrorType = "busy"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeInternal     ErrorType = "internal"
)

// AppError 结构化的应用错误
type AppError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func newError(typ ErrorType, status int, message string, cause error) *AppError {
	return &AppError{
		Type:       typ,
		Message:    message,
		StatusCode: status,
		Cause:      cause,
	}
}

// NewInputMissingError 上传中没有可用文件
func NewInputMissingError(message string, cause error) *AppError {
	return newError(ErrorTypeInputMissing, http.StatusBadRequest, message, cause)
}

func NewValidationError(message string, cause error) *AppError {
	return newError(ErrorTypeValidation, http.StatusBadRequest, message, cause)
}

func NewTooLargeError(message string, cause error) *AppError {
	return newError(ErrorTypeTooLarge, http.StatusRequestEntityTooLarge, message, cause)
}

func NewUnsupportedError(message string, cause error) *AppError {
	return newError(ErrorTypeUnsupported, http.StatusUnsupportedMediaType, message, cause)
}

// NewDecodeError 上传内容无法解码为图像
func NewDecodeError(message string, cause error) *AppError {
	return newError(ErrorTypeDecode, http.StatusBadRequest, message, cause)
}

func NewEncodeError(message string, cause error) *AppError {
	return newError(ErrorTypeEncode, http.StatusInternalServerError, message, cause)
}

func NewProcessingError(message string, cause error) *AppError {
	return newError(ErrorTypeProcessing, http.StatusInternalServerError, message, cause)
}

// NewBusyError 等待处理槽位超时
func NewBusyError(message string, cause error) *AppError {
	return newError(ErrorTypeBusy, http.StatusServiceUnavailable, message, cause)
}

func NewNotFoundError(message string, cause error) *AppError {
	return newError(ErrorTypeNotFound, http.StatusNotFound, message, cause)
}

func NewInternalError(message string, cause error) *AppError {
	return newError(ErrorTypeInternal, http.StatusInternalServerError, message, cause)
}

// IsType 判断错误链中是否包含指定类型的 AppError
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// GetStatusCode 从错误中提取 HTTP 状态码，默认 500
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}
