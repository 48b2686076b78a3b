// Package apperrors provides the error type used across the gateway. It
// extends the standard error interface with wrapping, HTTP status codes, and
// message composition, while remaining compatible with errors.Is / errors.As.
// Packages declare their error trees as vars derived from a single base error.
package apperrors

// Error is the application error interface. All methods return Error so that
// call sites can chain derivations.
type Error interface {
	error
	Unwrap() error // support for errors.Is / errors.As

	New(msg string) Error                  // fresh error using current as template
	Msg(msg string) Error                  // new error with message, wraps original
	MsgErr(msg string, err ...error) Error // new error with message, wraps extra errors
	Err(err ...error) Error                // attaches additional errors
	SetExpandError(bool) Error             // controls whether ErrorAll expands wrapped errors
	SetStatusCode(int) Error               // sets the HTTP status code
	StatusCode() int                       // returns the HTTP status code
	ErrorAll() string                      // full message including wrapped errors
	UnwrapAll() []error                    // all wrapped errors
}
