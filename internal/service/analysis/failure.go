package analysis

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a run failed.
type FailureKind string

const (
	KindValidation FailureKind = "validation"
	KindIO         FailureKind = "io"
	KindUpload     FailureKind = "upload"
	KindInference  FailureKind = "inference"
)

const emptyQueryMessage = "Please enter a question or insight to analyze the video."

var ErrEmptyQuery = errors.New("query must not be empty")

// Failure is the error side of an Outcome.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s failure: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// UserMessage is the plain text shown to the user.
func (f *Failure) UserMessage() string {
	if f.Kind == KindValidation {
		if errors.Is(f.Err, ErrEmptyQuery) {
			return emptyQueryMessage
		}
		return f.Err.Error()
	}
	return "An error occurred during analysis: " + f.Err.Error()
}

func newFailure(kind FailureKind, err error) *Failure {
	return &Failure{Kind: kind, Err: err}
}

// AsFailure unwraps err into a *Failure when possible.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}
