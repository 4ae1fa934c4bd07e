package rt11

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
)

// Errno is a POSIX-style error code. The FUSE adapter maps these to
// syscall errno values at its boundary; inside the driver they only serve
// to classify errors.
type Errno int

const (
	EOK Errno = iota
	EPERM
	ENOENT
	EIO
	EBADF
	EEXIST
	EINVAL
	EFBIG
	ENOSPC
	EROFS
	ENAMETOOLONG
	ENOSYS
	ENOTSUP
	EUCLEAN
)

var errorMessagesByCode = map[Errno]string{
	EPERM:        "Operation not permitted",
	ENOENT:       "No such file or directory",
	EIO:          "Input/output error",
	EBADF:        "Bad file descriptor",
	EEXIST:       "File exists",
	EINVAL:       "Invalid argument",
	EFBIG:        "File too large",
	ENOSPC:       "No space left on device",
	EROFS:        "Read-only file system",
	ENAMETOOLONG: "File name too long",
	ENOSYS:       "Function not implemented",
	ENOTSUP:      "Operation not supported",
	EUCLEAN:      "Structure needs cleaning",
}

// StrError returns the default human-readable message for an error code.
func StrError(code Errno) string {
	message, ok := errorMessagesByCode[code]
	if ok {
		return message
	}
	return fmt.Sprintf("error %d not recognized", int(code))
}

// DriverError is the error type surfaced by every fallible driver operation.
// It wraps an error code with a customizable message; derived errors built
// with WithMessage and Wrap stay matchable against their sentinel via
// [errors.Is].
type DriverError interface {
	error
	Errno() Errno
	WithMessage(message string) DriverError
	Wrap(err error) DriverError
	Unwrap() error
}

type driverError struct {
	errno         Errno
	message       string
	originalError error
}

var ErrNotPermitted = New(EPERM)
var ErrNotFound = New(ENOENT)
var ErrIOFailed = New(EIO)
var ErrInvalidFileDescriptor = New(EBADF)
var ErrExists = New(EEXIST)
var ErrInvalidArgument = New(EINVAL)
var ErrFileTooLarge = New(EFBIG)
var ErrNoSpaceOnDevice = New(ENOSPC)
var ErrReadOnlyFileSystem = New(EROFS)
var ErrNameTooLong = New(ENAMETOOLONG)
var ErrNotImplemented = New(ENOSYS)
var ErrNotSupported = New(ENOTSUP)
var ErrFileSystemCorrupted = New(EUCLEAN)

// New creates a [DriverError] with a default message derived from the error
// code.
func New(errnoCode Errno) DriverError {
	return driverError{
		errno:   errnoCode,
		message: StrError(errnoCode),
	}
}

// NewWithMessage creates a [DriverError] from an error code with a custom
// message.
func NewWithMessage(errnoCode Errno, message string) DriverError {
	return driverError{
		errno:   errnoCode,
		message: fmt.Sprintf("%s: %s", StrError(errnoCode), message),
	}
}

func (e driverError) Error() string {
	return e.message
}

func (e driverError) Errno() Errno {
	return e.errno
}

func (e driverError) Unwrap() error {
	return e.originalError
}

// WithMessage derives an error with extra context appended to the message.
// The derived error keeps the same code and unwraps to the original.
func (e driverError) WithMessage(message string) DriverError {
	return driverError{
		errno:         e.errno,
		message:       fmt.Sprintf("%s: %s", e.message, message),
		originalError: e,
	}
}

// Wrap derives an error that records `err` as an underlying cause.
func (e driverError) Wrap(err error) DriverError {
	return driverError{
		errno:         e.errno,
		message:       fmt.Sprintf("%s: %s", e.message, err.Error()),
		originalError: multierror.Append(e, err),
	}
}
