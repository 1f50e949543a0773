package crawler

import (
	"errors"
	"fmt"
)

// Sentinel errors for the pipeline failure taxonomy.
var (
	ErrTransport        = errors.New("render transport failure")
	ErrRedirectDetected = errors.New("redirected to homepage")
	ErrExtractionMiss   = errors.New("no extraction strategy met its floor")
	ErrPersistence      = errors.New("history write failed")
	ErrPublish          = errors.New("publish failed")
)

// StageError ties a failure to the pipeline stage and URL that produced it.
type StageError struct {
	Stage string
	URL   string
	Err   error
}

func (e *StageError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.URL, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err with stage and URL context.
func NewStageError(stage, url string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, URL: url, Err: err}
}
