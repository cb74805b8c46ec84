package cmd

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/mender/internal/config"
	"github.com/harrison/mender/internal/crash"
	"github.com/harrison/mender/internal/metrics"
)

func openTestSession(t *testing.T, root string, out io.Writer, extra ...*metrics.Recorder) *session {
	t.Helper()
	cfg, err := config.LoadConfigFromDir(root)
	require.NoError(t, err)

	var s *session
	if len(extra) > 0 {
		s, err = openSession(out, root, cfg, extra[0])
	} else {
		s, err = openSession(out, root, cfg)
	}
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestWatchLoop_RepairsEachEvent(t *testing.T) {
	root := setupProject(t)
	first := saveCrash(t, root)
	second := saveCrash(t, root)
	o := &scriptedOracle{files: []string{"fixed.txt"}}
	useOracle(t, o)

	var out bytes.Buffer
	recorder := metrics.NewRecorder()
	s := openTestSession(t, root, &out, recorder)

	events := make(chan crash.Event, 2)
	errs := make(chan error, 1)
	events <- crash.Event{ID: first}
	events <- crash.Event{ID: second}
	errs <- errors.New("queue overflow")

	err := watchLoop(context.Background(), s, events, errs, 2)
	require.NoError(t, err)

	assert.Equal(t, 2, o.calls())
	assert.Contains(t, out.String(), "New crash record: "+first)
	assert.Contains(t, out.String(), "Repaired "+second)

	stats, err := s.store.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalCrystals)
	assert.Equal(t, 2, stats.Successful)
}

func TestWatchLoop_BadRecordKeepsGoing(t *testing.T) {
	root := setupProject(t)
	id := saveCrash(t, root)
	o := &scriptedOracle{files: []string{"fixed.txt"}}
	useOracle(t, o)

	var out bytes.Buffer
	s := openTestSession(t, root, &out)

	events := make(chan crash.Event, 3)
	events <- crash.Event{ID: "crash_19700101_000000"}
	events <- crash.Event{ID: id}
	events <- crash.Event{ID: id}

	// The unreadable record must not use up the single repair slot
	require.NoError(t, watchLoop(context.Background(), s, events, nil, 1))
	assert.Contains(t, out.String(), "did not start")
	assert.Equal(t, 1, o.calls())
	assert.Len(t, events, 1)
}

func TestWatchLoop_StopsOnCancel(t *testing.T) {
	root := setupProject(t)
	useOracle(t, &scriptedOracle{files: []string{"fixed.txt"}})
	s := openTestSession(t, root, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- watchLoop(ctx, s, make(chan crash.Event), make(chan error), 0)
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch loop did not stop after cancel")
	}
}

func TestWatchCommand_RepairsNewCrash(t *testing.T) {
	root := setupProject(t)
	o := &scriptedOracle{files: []string{"fixed.txt"}}
	useOracle(t, o)

	done := make(chan error, 1)
	go func() {
		_, _, err := execute(t, "watch", root, "--max-repairs", "1")
		done <- err
	}()

	// Records that exist when the watcher starts are skipped, so keep
	// writing new ones until one is picked up.
	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case err := <-done:
			require.NoError(t, err)
			assert.GreaterOrEqual(t, o.calls(), 1)
			return
		case <-tick.C:
			_, err := crash.NewSource("").Save(root, crash.Record{Traceback: testTraceback})
			require.NoError(t, err)
		case <-deadline:
			t.Fatal("watch did not repair a new crash")
		}
	}
}

func TestWatchCommand_NegativeMaxRepairs(t *testing.T) {
	root := setupProject(t)
	_, _, err := execute(t, "watch", root, "--max-repairs", "-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--max-repairs")
}

func TestMetricsMux(t *testing.T) {
	recorder := metrics.NewRecorder()
	server := httptest.NewServer(metricsMux(recorder))
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "mender_active_runs")

	missing, err := http.Get(server.URL + "/other")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}
