package classify

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// utcClock is the default Clock.
type utcClock struct{}

func (utcClock) Now() time.Time {
	return time.Now().UTC()
}

// runIDs is the default IDGenerator. Version 7 ids sort by creation time,
// so run ids in logs and notifications order like the runs themselves.
type runIDs struct{}

func (runIDs) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}
