// Package progress defines the event stream emitted by history backfills.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Backfill lifecycle stages.
const (
	StageTaskStart Stage = "TASK_START"
	StageTaskPage  Stage = "TASK_PAGE"
	StageTaskDone  Stage = "TASK_DONE"
	StageTaskError Stage = "TASK_ERROR"
)

// Event captures one backfill milestone.
type Event struct {
	// TaskID identifies the backfill run.
	TaskID uuid.UUID
	// TargetID is the monitored author the run belongs to.
	TargetID int64
	// TS is the timestamp recorded by the emitter.
	TS time.Time
	// Stage is the milestone kind.
	Stage Stage
	// Page is the listing page just crawled, 1-based.
	Page int
	// PagesTotal is the page ceiling for the run.
	PagesTotal int
	// Items is the cumulative count of new records gathered so far.
	Items int
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TaskID == uuid.Nil {
		return errors.New("task id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageTaskStart, StageTaskDone, StageTaskError:
	case StageTaskPage:
		if e.Page < 1 {
			return errors.New("page event requires a page number")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	return nil
}
