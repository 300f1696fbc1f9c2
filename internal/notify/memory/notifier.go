// Package memory records run notifications in memory for tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/factcheck-aggregator/internal/classify"
)

// Notifier stores every report it is given.
type Notifier struct {
	mu      sync.RWMutex
	reports []classify.Report
}

var _ classify.Notifier = (*Notifier)(nil)

// New returns a memory Notifier.
func New() *Notifier {
	return &Notifier{}
}

// RunCompleted records the report.
func (n *Notifier) RunCompleted(_ context.Context, report classify.Report) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reports = append(n.reports, report)
	return nil
}

// Reports returns the recorded reports.
func (n *Notifier) Reports() []classify.Report {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]classify.Report, len(n.reports))
	copy(out, n.reports)
	return out
}
