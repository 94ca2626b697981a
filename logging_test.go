package machines

import (
	"bytes"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer serialises writes; the logger is shared by every worker.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (x *syncBuffer) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.b.Write(p)
}

func (x *syncBuffer) String() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.b.String()
}

func TestWithLogger_structuredOutput(t *testing.T) {
	var buf syncBuffer
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(
			stumpy.WithWriter(&buf),
			stumpy.WithTimeField(``),
		),
	)

	m, err := New(
		WithMaxProcs(1),
		WithIdleShutdown(2, 10*time.Millisecond),
		WithLogger(logger.Logger()),
	)
	require.NoError(t, err)

	var done atomic.Bool
	m.Go(func() { done.Store(true) })
	shutdown(t, m)

	assert.True(t, done.Load())
	out := buf.String()
	assert.True(t, strings.Contains(out, "machines started"), "missing start log: %s", out)
	assert.True(t, strings.Contains(out, "machines stopped"), "missing stop log: %s", out)
	assert.True(t, strings.Contains(out, `"procs":"1"`) || strings.Contains(out, `"procs":1`),
		"missing procs field: %s", out)
}

func TestWithLogger_nilDisablesLogging(t *testing.T) {
	m, err := New(WithLogger(nil), WithIdleShutdown(2, 10*time.Millisecond))
	require.NoError(t, err)
	shutdown(t, m)
}
