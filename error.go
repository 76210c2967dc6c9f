package miniscript

import (
	"fmt"
)

// ErrorCode identifies a kind of error.
type ErrorCode int

// These constants are used to identify a specific Error.
const (
	// ErrSyntax indicates malformed miniscript or policy text, or a script
	// that does not follow the miniscript grammar.
	ErrSyntax ErrorCode = iota

	// ErrInvalidOpcode indicates a script contains an opcode or push that
	// miniscript never produces, including non-minimal pushes and an
	// OP_VERIFY that should have been merged into the preceding opcode.
	ErrInvalidOpcode

	// ErrTypeCheck indicates a fragment composition that violates the type
	// rules, including arity errors, mixed timelock units and duplicate
	// keys.
	ErrTypeCheck

	// ErrResourceLimit indicates the script size, op count, sigop count or
	// witness size is above the ceiling of the script context.
	ErrResourceLimit

	// ErrUnsupportedInContext indicates a fragment or key encoding that is
	// not permitted in the script context.
	ErrUnsupportedInContext

	// ErrCompile indicates the policy compiler found no encoding within the
	// limits of the script context.
	ErrCompile

	// ErrSearchExhausted indicates the policy compiler ran out of its
	// search budget before finishing.
	ErrSearchExhausted

	// ErrImpossible indicates no satisfaction exists for the signatures,
	// preimages and timelocks available to the satisfier.
	ErrImpossible

	// numErrorCodes is the maximum error code number used in tests.
	numErrorCodes
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrSyntax:               "ErrSyntax",
	ErrInvalidOpcode:        "ErrInvalidOpcode",
	ErrTypeCheck:            "ErrTypeCheck",
	ErrResourceLimit:        "ErrResourceLimit",
	ErrUnsupportedInContext: "ErrUnsupportedInContext",
	ErrCompile:              "ErrCompile",
	ErrSearchExhausted:      "ErrSearchExhausted",
	ErrImpossible:           "ErrImpossible",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// Error satisfies the error interface so an ErrorCode can be used as the
// target of errors.Is.
func (e ErrorCode) Error() string {
	return e.String()
}

// Error identifies a failure to parse, type check, compile or satisfy a
// miniscript. The caller can use errors.Is with an ErrorCode, or a type
// assertion, to ascertain the specific reason for the failure.
type Error struct {
	ErrorCode   ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue

	// Offset is the character offset into miniscript or policy text, or
	// the byte offset into a script, at which the error was detected. It
	// is -1 when the error is not tied to a position.
	Offset int
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Offset >= 0 {
		return fmt.Sprintf("%s (at offset %d)", e.Description, e.Offset)
	}
	return e.Description
}

// Unwrap returns the error code so that errors.Is(err, ErrTypeCheck) and
// similar work for wrapped errors.
func (e Error) Unwrap() error {
	return e.ErrorCode
}

// miniscriptError creates an Error that is not tied to a position.
func miniscriptError(c ErrorCode, desc string) Error {
	return Error{ErrorCode: c, Description: desc, Offset: -1}
}

// errorf creates an Error from a format string.
func errorf(c ErrorCode, format string, args ...interface{}) Error {
	return miniscriptError(c, fmt.Sprintf(format, args...))
}

// offsetError creates an Error tied to a character or byte offset.
func offsetError(c ErrorCode, offset int, desc string) Error {
	return Error{ErrorCode: c, Description: desc, Offset: offset}
}

// NewError creates an Error. It is used by packages building on top of
// miniscript, such as the policy compiler, so that every failure carries the
// same ErrorCode classification.
func NewError(c ErrorCode, offset int, desc string) Error {
	return Error{ErrorCode: c, Description: desc, Offset: offset}
}
