package pipeline

import (
	"errors"
	"fmt"
)

// Stage identifies where in the URL pipeline a failure happened.
type Stage string

const (
	// StageFetch means the fetch attempt budget ran out.
	StageFetch Stage = "FETCH"
	// StageTranscode means the transcoder rejected the fetched bytes.
	StageTranscode Stage = "TRANSCODE"
	// StageHash means the content key could not be derived.
	StageHash Stage = "HASH"
	// StageExists means the object store existence check failed.
	StageExists Stage = "EXISTS"
	// StageUpload means the object store write failed.
	StageUpload Stage = "UPLOAD"
	// StageEntry means an unexpected failure escaped an entry.
	StageEntry Stage = "ENTRY"
)

// ProcessError is a terminal failure for one URL (or, for StageEntry,
// one entry). It is logged and counted as a skip, never propagated.
type ProcessError struct {
	Stage Stage
	URL   string
	Entry string
	Err   error
}

// Error implements the error interface.
func (e *ProcessError) Error() string {
	switch {
	case e.URL != "":
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.URL, e.Err)
	case e.Entry != "":
		return fmt.Sprintf("%s: entry %s: %v", e.Stage, e.Entry, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *ProcessError) Unwrap() error {
	return e.Err
}

// IsStage reports whether err is a ProcessError raised at stage.
// Uses errors.As to handle wrapped errors.
func IsStage(err error, stage Stage) bool {
	var pe *ProcessError
	if errors.As(err, &pe) {
		return pe.Stage == stage
	}
	return false
}
