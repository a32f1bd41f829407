// Package errs holds the failure taxonomy shared by every stage of a run.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// LoadError reports a missing, corrupt or mismatched backbone artifact.
type LoadError struct {
	Op  string
	Err error
}

func (e *LoadError) Error() string { return format("load", e.Op, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// ShapeError reports incompatible tensor shapes detected while building or running the network.
type ShapeError struct {
	Op  string
	Err error
}

func (e *ShapeError) Error() string { return format("shape", e.Op, e.Err) }
func (e *ShapeError) Unwrap() error { return e.Err }

// ConfigError reports an invalid run configuration.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string { return format("config", e.Op, e.Err) }
func (e *ConfigError) Unwrap() error { return e.Err }

// RunError reports a failed training step: numeric blow-up, kernel panic, cancellation.
type RunError struct {
	Op  string
	Err error
}

func (e *RunError) Error() string { return format("run", e.Op, e.Err) }
func (e *RunError) Unwrap() error { return e.Err }

// Load builds a LoadError with a formatted cause.
func Load(op, msg string, args ...any) error {
	return &LoadError{Op: op, Err: errors.Errorf(msg, args...)}
}

// WrapLoad wraps err as a LoadError. A nil err yields nil.
func WrapLoad(op string, err error) error {
	if err == nil {
		return nil
	}
	return &LoadError{Op: op, Err: errors.WithStack(err)}
}

// Shape builds a ShapeError with a formatted cause.
func Shape(op, msg string, args ...any) error {
	return &ShapeError{Op: op, Err: errors.Errorf(msg, args...)}
}

// Config builds a ConfigError with a formatted cause.
func Config(op, msg string, args ...any) error {
	return &ConfigError{Op: op, Err: errors.Errorf(msg, args...)}
}

// Run builds a RunError with a formatted cause.
func Run(op, msg string, args ...any) error {
	return &RunError{Op: op, Err: errors.Errorf(msg, args...)}
}

// WrapRun wraps err as a RunError unless it already belongs to the taxonomy.
func WrapRun(op string, err error) error {
	if err == nil {
		return nil
	}
	if Classified(err) {
		return err
	}
	return &RunError{Op: op, Err: errors.WithStack(err)}
}

// Classified reports whether err (or anything it wraps) is one of the four error kinds.
func Classified(err error) bool {
	var (
		le *LoadError
		se *ShapeError
		ce *ConfigError
		re *RunError
	)
	return errors.As(err, &le) || errors.As(err, &se) || errors.As(err, &ce) || errors.As(err, &re)
}

func format(kind, op string, err error) string {
	if op == "" {
		return fmt.Sprintf("%s: %v", kind, err)
	}
	return fmt.Sprintf("%s: %s: %v", kind, op, err)
}
