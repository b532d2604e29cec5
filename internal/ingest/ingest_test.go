package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dnsweaver/dnsweaver/internal/model"
)

const (
	queryLine = "07-Aug-2026 12:34:56.789 client @0x7f2a8c0 192.168.1.50#54321 (www.example.com): query: www.example.com IN A +E(0)K (10.0.0.10)"
	rpzLine   = "07-Aug-2026 12:34:57.120 rpz: info: client @0x7f2a8c0 192.168.1.50#54321 (bad.example): rpz QNAME NXDOMAIN rewrite bad.example/A/IN via bad.example.malware"
)

func TestParseQueryLine(t *testing.T) {
	row, ok := ParseLine(queryLine)
	require.True(t, ok)
	assert.Equal(t, "192.168.1.50", row.ClientIP)
	assert.Equal(t, uint16(54321), row.ClientPort)
	assert.Equal(t, "www.example.com", row.QueryName)
	assert.Equal(t, "A", row.QueryType)
	assert.False(t, row.Blocked)
	assert.Equal(t, time.Date(2026, 8, 7, 12, 34, 56, 789_000_000, time.UTC), row.Timestamp)
}

func TestParseQueryLineWithCategoryPrefix(t *testing.T) {
	line := "07-Aug-2026 12:34:56.789 queries: info: client 10.1.2.3#1053 (intra.example): query: intra.example IN AAAA +E(0) (10.0.0.10)"
	row, ok := ParseLine(line)
	require.True(t, ok)
	assert.Equal(t, "10.1.2.3", row.ClientIP)
	assert.Equal(t, "AAAA", row.QueryType)
}

func TestParseRPZRewriteLine(t *testing.T) {
	row, ok := ParseLine(rpzLine)
	require.True(t, ok)
	assert.True(t, row.Blocked)
	assert.Equal(t, "bad.example", row.QueryName)
	assert.Equal(t, "A", row.QueryType)
	assert.Equal(t, "nxdomain", row.RPZAction)
	assert.Equal(t, "malware", row.RPZZone)
}

func TestParseRejectsOtherLines(t *testing.T) {
	for _, line := range []string{
		"",
		"resolver priming query complete",
		"07-Aug-2026 12:34:56.789 zone internal.local/IN: loaded serial 2026080701",
		"completely unrelated text",
	} {
		_, ok := ParseLine(line)
		assert.False(t, ok, "line %q should not parse", line)
	}
}

type collectingStore struct {
	mu   sync.Mutex
	rows []model.QueryLogRow
	err  error
}

func (c *collectingStore) RecordQueryLogBatch(_ context.Context, rows []model.QueryLogRow) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.rows = append(c.rows, rows...)
	return nil
}

func (c *collectingStore) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rows)
}

func (c *collectingStore) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rows))
	for _, r := range c.rows {
		out = append(out, r.QueryName)
	}
	return out
}

type nopPublisher struct{}

func (nopPublisher) Emit(model.Event) {}

func startTailer(t *testing.T, st Store) (string, *Ingestor) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "query.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	ing := New(Config{
		Path:          path,
		BatchSize:     2,
		FlushInterval: 30 * time.Millisecond,
		PollInterval:  10 * time.Millisecond,
	}, st, nopPublisher{}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan struct{})
	go func() {
		ing.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Let the tailer open the file before lines arrive.
	time.Sleep(50 * time.Millisecond)
	return path, ing
}

func appendLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	for _, l := range lines {
		_, err := f.WriteString(l + "\n")
		require.NoError(t, err)
	}
}

func TestTailerFollowsAppends(t *testing.T) {
	st := &collectingStore{}
	path, _ := startTailer(t, st)

	appendLines(t, path, queryLine, rpzLine)
	require.Eventually(t, func() bool { return st.count() == 2 },
		2*time.Second, 20*time.Millisecond)
	assert.ElementsMatch(t, []string{"www.example.com", "bad.example"}, st.names())
}

func TestTailerSurvivesRotation(t *testing.T) {
	st := &collectingStore{}
	path, _ := startTailer(t, st)

	appendLines(t, path, queryLine)
	require.Eventually(t, func() bool { return st.count() == 1 },
		2*time.Second, 20*time.Millisecond)

	// Rotate: move the file aside and start a fresh one under the old name.
	require.NoError(t, os.Rename(path, path+".1"))
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	appendLines(t, path, rpzLine)

	require.Eventually(t, func() bool { return st.count() == 2 },
		2*time.Second, 20*time.Millisecond)
	assert.Contains(t, st.names(), "bad.example")
}

func TestTailerCountsParseErrors(t *testing.T) {
	st := &collectingStore{}
	path, ing := startTailer(t, st)

	appendLines(t, path, "garbage line one", "garbage line two", queryLine)
	require.Eventually(t, func() bool { return st.count() == 1 },
		2*time.Second, 20*time.Millisecond)
	assert.Equal(t, uint64(2), ing.ParseErrors())
}
