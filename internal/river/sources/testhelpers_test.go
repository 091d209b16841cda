package sources

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/i474232898/river-flow-aggregation/internal/river"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testHTTPConfig(t *testing.T) HTTPClientConfig {
	t.Helper()
	return HTTPClientConfig{
		Client: &http.Client{Timeout: 2 * time.Second},
		Backoff: BackoffConfig{
			MaxRetries:      2,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		},
	}
}

type recordingRecorder struct {
	mu       sync.Mutex
	outcomes []string
	skipped  map[river.SourceKind]int
}

func (r *recordingRecorder) ObserveFetch(_ river.SourceKind, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingRecorder) RowsSkipped(source river.SourceKind, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.skipped == nil {
		r.skipped = make(map[river.SourceKind]int)
	}
	r.skipped[source] += n
}
