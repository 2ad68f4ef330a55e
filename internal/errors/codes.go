package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents internal error codes for transfer operations
type ErrorCode int

const (
	// Success
	ErrCodeOK ErrorCode = 0

	// Configuration and format errors, fatal to the whole dataset
	ErrCodeInvalidArgument    ErrorCode = 1000
	ErrCodeNotAFile           ErrorCode = 1001
	ErrCodeNoDataFiles        ErrorCode = 1002
	ErrCodeInvalidDataFile    ErrorCode = 1003
	ErrCodeVersionTooOld      ErrorCode = 1004
	ErrCodeNoPartitionData    ErrorCode = 1005
	ErrCodeNoUniqueStateTable ErrorCode = 1006
	ErrCodeUnknownSource      ErrorCode = 1007
	ErrCodeUnknownSink        ErrorCode = 1008

	// Runtime errors
	ErrCodeInternal   ErrorCode = 2000
	ErrCodeScanFailed ErrorCode = 2001
	ErrCodeSinkFailed ErrorCode = 2002
)

// TransferError represents a structured error with code and context
type TransferError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *TransferError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *TransferError) Unwrap() error {
	return e.Cause
}

// IsConfiguration reports whether the error belongs to the configuration/format family.
func (e *TransferError) IsConfiguration() bool {
	return e.Code >= ErrCodeInvalidArgument && e.Code < ErrCodeInternal
}

// NewTransferError creates a new TransferError
func NewTransferError(code ErrorCode, message string, cause error) *TransferError {
	return &TransferError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *TransferError) WithDetail(key string, value interface{}) *TransferError {
	e.Details[key] = value
	return e
}

// Convenience constructors for common errors

func InvalidArgument(message string, cause error) *TransferError {
	return NewTransferError(ErrCodeInvalidArgument, message, cause)
}

func NotAFile(path string) *TransferError {
	return NewTransferError(ErrCodeNotAFile, fmt.Sprintf("backup_dir is not a file: %s", path), nil).
		WithDetail("path", path)
}

func NoDataFiles(basePath string) *TransferError {
	return NewTransferError(ErrCodeNoDataFiles, fmt.Sprintf("no db files found for %s", basePath), nil).
		WithDetail("path", basePath)
}

func InvalidDataFile(path string, cause error) *TransferError {
	return NewTransferError(ErrCodeInvalidDataFile, fmt.Sprintf("unable to read db file %s", path), cause).
		WithDetail("path", path)
}

func VersionTooOld(basePath string, minVersion int, versions map[string]int) *TransferError {
	msg := fmt.Sprintf("wrong backup/db file versions for %s;"+
		" either the metadata db file is not specified"+
		" or the backup files need upgrading to version %d;"+
		" please use cbdbupgrade or contact support", basePath, minVersion)
	return NewTransferError(ErrCodeVersionTooOld, msg, nil).
		WithDetail("path", basePath).
		WithDetail("min_version", minVersion).
		WithDetail("versions", versions)
}

func NoPartitionData(basePath string) *TransferError {
	return NewTransferError(ErrCodeNoPartitionData,
		fmt.Sprintf("no partition data found in %s; check if db files are correct", basePath), nil).
		WithDetail("path", basePath)
}

func NoUniqueStateTable(table string, owners int) *TransferError {
	return NewTransferError(ErrCodeNoUniqueStateTable,
		fmt.Sprintf("no unique %s table: found in %d db files", table, owners), nil).
		WithDetail("table", table).
		WithDetail("owners", owners)
}

func UnknownSource(spec string) *TransferError {
	return NewTransferError(ErrCodeUnknownSource, fmt.Sprintf("unknown type of source: %s", spec), nil).
		WithDetail("spec", spec)
}

func UnknownSink(spec string) *TransferError {
	return NewTransferError(ErrCodeUnknownSink, fmt.Sprintf("unknown type of sink: %s", spec), nil).
		WithDetail("spec", spec)
}

func InternalError(message string, cause error) *TransferError {
	return NewTransferError(ErrCodeInternal, message, cause)
}

func ScanFailed(alias, table string, cause error) *TransferError {
	return NewTransferError(ErrCodeScanFailed, fmt.Sprintf("scan failed on %s/%s", alias, table), cause).
		WithDetail("alias", alias).
		WithDetail("table", table)
}

func SinkFailed(message string, cause error) *TransferError {
	return NewTransferError(ErrCodeSinkFailed, message, cause)
}

// IsTransferError checks if an error is a TransferError
func IsTransferError(err error) bool {
	var te *TransferError
	return stderrors.As(err, &te)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var te *TransferError
	if stderrors.As(err, &te) {
		return te.Code
	}
	return ErrCodeInternal
}

// IsConfiguration reports whether err is a configuration/format error.
func IsConfiguration(err error) bool {
	var te *TransferError
	return stderrors.As(err, &te) && te.IsConfiguration()
}
