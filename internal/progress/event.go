package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage names the pipeline step an Event belongs to.
type Stage string

// Pipeline stages.
const (
	StageRun      Stage = "run"
	StageDiscover Stage = "discover"
	StageFetch    Stage = "fetch"
	StageExtract  Stage = "extract"
	StagePersist  Stage = "persist"
	StagePublish  Stage = "publish"
)

// Outcome classifies how a stage ended for one link or endpoint.
type Outcome string

// Supported outcomes.
const (
	OutcomeStart   Outcome = "start"
	OutcomeSuccess Outcome = "success"
	OutcomeRetry   Outcome = "retry"
	OutcomeAbandon Outcome = "abandon"
	OutcomeSkip    Outcome = "skip"
)

// Event captures one stage outcome.
type Event struct {
	// RunID identifies the pipeline pass using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS      time.Time
	Stage   Stage
	Outcome Outcome
	// URL is the listing or detail page the event refers to, if any.
	URL      string
	Category string
	// Attempt is the 1-based attempt number for fetch and publish retries.
	Attempt  int
	Strategy string
	Dur      time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRun, StageDiscover, StageFetch, StageExtract, StagePersist, StagePublish:
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	switch e.Outcome {
	case OutcomeStart, OutcomeSuccess, OutcomeRetry, OutcomeAbandon, OutcomeSkip:
	default:
		return fmt.Errorf("unknown outcome %q", e.Outcome)
	}
	if e.Outcome == OutcomeRetry && e.Attempt <= 0 {
		return errors.New("retry events require an attempt number")
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
