// Package senserr defines sensord's two error kinds (§7 of the spec):
// recoverable errors, reported to the requesting client as a negative
// err code on the reply frame, and fatal errors, which tear down the
// whole channel. It also carries the mapping from internal failures to
// the wire error codes named in the protocol.
package senserr

import (
	"github.com/lavataste/sensord/internal/errs"
)

// Code is one of the wire protocol's negative err values (§6).
type Code int32

const (
	OK       Code = 0
	EINVAL   Code = -22 // unknown sensor or bad arguments
	EACCES   Code = -13 // missing privilege
	EIO      Code = -5  // driver failure
	EAGAIN   Code = -11 // rate-limited
	EPERM    Code = -1  // permission denied
)

type recoverableErr struct {
	code Code
	err  error
}

func (r *recoverableErr) Error() string { return r.err.Error() }
func (r *recoverableErr) Unwrap() error { return r.err }

// Recoverable wraps err as a recoverable, per-request failure carrying
// code. It is reported to the requesting client on the reply frame;
// the channel itself stays open.
func Recoverable(code Code, err error) error {
	return &recoverableErr{code: code, err: errs.WithStack(err)}
}

// Recoverablef is the formatted-message convenience form of Recoverable.
func Recoverablef(code Code, format string, args ...interface{}) error {
	return Recoverable(code, errs.Newf(format, args...))
}

// CodeOf extracts the wire err code from err, walking wrapped errors.
// Errors that were never tagged via Recoverable map to EIO, matching
// §7's rule that unclassified handler-internal failures propagate to
// the client as -EIO.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var r *recoverableErr
	if errs.As(err, &r) {
		return r.code
	}
	return EIO
}

// fatalErr marks a protocol violation or peer hang-up: the channel and
// every listener proxy attached to it must be torn down, per §7.
type fatalErr struct {
	err error
}

func (f *fatalErr) Error() string { return f.err.Error() }
func (f *fatalErr) Unwrap() error { return f.err }

// Fatal wraps err to signal the channel must be torn down.
func Fatal(err error) error {
	return &fatalErr{err: errs.WithStack(err)}
}

// Fatalf is the formatted-message convenience form of Fatal.
func Fatalf(format string, args ...interface{}) error {
	return Fatal(errs.Newf(format, args...))
}

// IsFatal reports whether err (or anything it wraps) was marked Fatal.
func IsFatal(err error) bool {
	var f *fatalErr
	return errs.As(err, &f)
}
