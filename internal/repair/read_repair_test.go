package repair

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecstore/internal/object"
)

// mockWriter is a mock for testing read repair
type mockWriter struct {
	mu       sync.Mutex
	written  map[string]*object.VersionedValue
	failFor  string
	objectID string
}

func (m *mockWriter) Replicate(ctx context.Context, replicaID, bucketID, objectID string, value *object.VersionedValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if replicaID == m.failFor {
		return errors.New("replica unreachable")
	}
	if m.written == nil {
		m.written = make(map[string]*object.VersionedValue)
	}
	m.written[replicaID] = value
	m.objectID = objectID
	return nil
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("read repair did not finish")
	}
}

func TestReadRepairer_Repair_StaleReplicas(t *testing.T) {
	w := &mockWriter{failFor: "r3"}
	repairer := NewReadRepairer(w, time.Second, zerolog.Nop())

	winner := &object.VersionedValue{Version: 4, Content: []byte("value")}
	waitDone(t, repairer.Repair("b", "test-key", winner, []string{"r1", "r3"}))

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Contains(t, w.written, "r1")
	assert.NotContains(t, w.written, "r3")
	assert.Equal(t, object.Version(4), w.written["r1"].Version)
	assert.Equal(t, "test-key", w.objectID)
}

func TestReadRepairer_Repair_NoStale(t *testing.T) {
	w := &mockWriter{}
	repairer := NewReadRepairer(w, time.Second, zerolog.Nop())

	waitDone(t, repairer.Repair("b", "k", &object.VersionedValue{Version: 1}, nil))

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Empty(t, w.written)
}
