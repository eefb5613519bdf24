package tests

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/liuxd6825/gcbridge/errext/exitcodes"
	"github.com/liuxd6825/gcbridge/internal/cmd"
	"github.com/liuxd6825/gcbridge/lib/sri"
	"github.com/liuxd6825/gcbridge/lib/testutils"
)

const script = `window.goatcounter = {count: function() {}};`

func TestHashLocal(t *testing.T) {
	t.Parallel()

	ts := NewGlobalTestState(t)
	writePage(t, ts, "count.js", script)
	ts.CmdArgs = []string{"gcbridge", "hash", "count.js"}

	cmd.ExecuteWithGlobalState(ts.GlobalState)
	assert.Equal(t, sri.Compute([]byte(script))+"\n", ts.Stdout.String())
}

func TestHashRemote(t *testing.T) {
	t.Parallel()

	var hits int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte(script))
	}))
	defer srv.Close()

	ts := NewGlobalTestState(t)
	ts.HTTPClient = srv.Client()
	ts.CmdArgs = []string{"gcbridge", "hash", srv.URL + "/count.js"}

	cmd.ExecuteWithGlobalState(ts.GlobalState)
	assert.Equal(t, sri.Compute([]byte(script))+"\n", ts.Stdout.String())
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestHashVersion(t *testing.T) {
	t.Parallel()

	t.Run("match", func(t *testing.T) {
		t.Parallel()
		ts := NewGlobalTestState(t)
		writePage(t, ts, "count.js", script)
		writePage(t, ts, "versions.json", `{"7": "`+sri.Compute([]byte(script))+`"}`)
		ts.CmdArgs = []string{"gcbridge", "hash", "--versions", "/test/versions.json", "--script-version", "7", "count.js"}

		cmd.ExecuteWithGlobalState(ts.GlobalState)
		assert.True(t, strings.HasSuffix(ts.Stdout.String(), " ok\n"))
	})

	t.Run("mismatch", func(t *testing.T) {
		t.Parallel()
		ts := NewGlobalTestState(t)
		writePage(t, ts, "count.js", script)
		ts.CmdArgs = []string{"gcbridge", "hash", "--script-version", "4", "count.js"}
		ts.ExpectedExitCode = int(exitcodes.IntegrityMismatch)

		cmd.ExecuteWithGlobalState(ts.GlobalState)
		assert.True(t, strings.HasSuffix(ts.Stdout.String(), " mismatch\n"))
		entries := ts.LoggerHook.Drain()
		assert.True(t, testutils.LogContains(entries, logrus.ErrorLevel, "doesn't match the integrity hash of version 4"))
		for _, e := range entries {
			if e.Level == logrus.ErrorLevel {
				assert.Equal(t, "expected "+v4Integrity, e.Data["hint"])
			}
		}
	})

	t.Run("unknown version", func(t *testing.T) {
		t.Parallel()
		ts := NewGlobalTestState(t)
		writePage(t, ts, "count.js", script)
		ts.CmdArgs = []string{"gcbridge", "hash", "--script-version", "999", "count.js"}
		ts.ExpectedExitCode = int(exitcodes.InvalidConfig)

		cmd.ExecuteWithGlobalState(ts.GlobalState)
		assert.True(t, testutils.LogContains(ts.LoggerHook.Drain(), logrus.ErrorLevel, `no integrity hash known for version "999"`))
	})
}
