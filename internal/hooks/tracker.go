package hooks

import (
	"context"
	"sync"

	"github.com/earchibald/home-brain-sub000/pkg/models"
)

// SourceTracker accumulates provenance for a single request. The pipeline
// installs one per message via context; hooks and tools record into the
// caller's tracker without it being threaded through every signature.
type SourceTracker struct {
	mu      sync.Mutex
	records []models.SourceRecord
}

// Record appends one source record.
func (t *SourceTracker) Record(rec models.SourceRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, rec)
}

// Records returns a copy of everything recorded so far.
func (t *SourceTracker) Records() []models.SourceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.SourceRecord, len(t.records))
	copy(out, t.records)
	return out
}

// BrainSources returns the note files recorded by brain searches.
func (t *SourceTracker) BrainSources() []string {
	return t.sourcesFor("brain_search")
}

// WebSources returns the host names recorded by web searches.
func (t *SourceTracker) WebSources() []string {
	return t.sourcesFor("web_search")
}

func (t *SourceTracker) sourcesFor(tool string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []string
	seen := map[string]bool{}
	for _, rec := range t.records {
		if rec.ToolName != tool || !rec.Success {
			continue
		}
		for _, s := range rec.Sources {
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

type trackerKey struct{}

// WithTracker installs a fresh tracker on the context.
func WithTracker(ctx context.Context) (context.Context, *SourceTracker) {
	t := &SourceTracker{}
	return context.WithValue(ctx, trackerKey{}, t), t
}

// TrackerFrom returns the request's tracker, or nil outside a request.
func TrackerFrom(ctx context.Context) *SourceTracker {
	t, _ := ctx.Value(trackerKey{}).(*SourceTracker)
	return t
}
