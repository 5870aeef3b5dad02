// Package errs classifies failures so the boundary can report them
// consistently: validation, not-found, upstream and configuration errors.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrUpstream   = errors.New("upstream error")
	ErrConfig     = errors.New("configuration error")
)

type kindError struct {
	kind error
	msg  string
	err  error
}

func (e *kindError) Error() string {
	if e.err != nil && e.msg != "" {
		return e.msg + ": " + e.err.Error()
	}
	if e.err != nil {
		return e.err.Error()
	}
	return e.msg
}

func (e *kindError) Unwrap() []error {
	if e.err != nil {
		return []error{e.kind, e.err}
	}
	return []error{e.kind}
}

func Validation(format string, args ...any) error {
	return &kindError{kind: ErrValidation, msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &kindError{kind: ErrNotFound, msg: fmt.Sprintf(format, args...)}
}

func Config(format string, args ...any) error {
	return &kindError{kind: ErrConfig, msg: fmt.Sprintf(format, args...)}
}

// Upstream marks err as an exchange-side failure. Nil stays nil and errors
// that already carry a kind are returned unchanged.
func Upstream(err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != nil {
		return err
	}
	return &kindError{kind: ErrUpstream, err: err}
}

// KindOf reports which sentinel err carries, or nil.
func KindOf(err error) error {
	for _, kind := range []error{ErrValidation, ErrNotFound, ErrConfig, ErrUpstream} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
