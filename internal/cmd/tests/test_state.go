// Package tests contains the helpers of the CLI integration tests.
package tests

import (
	"bytes"
	"context"
	"net/http"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/gcbridge/cmd/state"
	"github.com/liuxd6825/gcbridge/lib/testutils"
	"github.com/liuxd6825/gcbridge/ui/console"
)

// GlobalTestState is a state.GlobalState with in-memory streams and
// filesystem, for running commands in tests.
type GlobalTestState struct {
	*state.GlobalState
	Cancel func()

	Stdout, Stderr *bytes.Buffer
	LoggerHook     *testutils.SimpleLogrusHook

	Cwd string

	ExpectedExitCode int
}

type bufferFile struct {
	*bytes.Buffer
}

func (bufferFile) Fd() uintptr { return ^uintptr(0) }

// NewGlobalTestState returns a state rooted in a memory filesystem, with the
// working directory created in it.
func NewGlobalTestState(tb testing.TB) *GlobalTestState {
	tb.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	tb.Cleanup(cancel)

	fs := afero.NewMemMapFs()
	cwd := "/test/"
	if runtime.GOOS == "windows" {
		cwd = "c:\\test\\"
	}
	require.NoError(tb, fs.MkdirAll(cwd, 0o755))

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)
	logger.Out = testutils.NewTestOutput(tb)
	hook := testutils.NewLogHook()
	logger.AddHook(hook)

	ts := &GlobalTestState{
		Cwd:        cwd,
		Cancel:     cancel,
		LoggerHook: hook,
		Stdout:     new(bytes.Buffer),
		Stderr:     new(bytes.Buffer),
	}

	con := console.New(bufferFile{ts.Stdout}, bufferFile{ts.Stderr}, new(bytes.Buffer), false, "dumb")
	con.SetLogger(logger)

	defaultFlags := state.GetDefaultGlobalOptions(filepath.Join(cwd, ".config"))
	defaultFlags.LogFormat = "text"

	osExitCalled := false
	defaultOsExitHandle := func(exitCode int) {
		cancel()
		osExitCalled = true
		assert.Equal(tb, ts.ExpectedExitCode, exitCode)
	}

	tb.Cleanup(func() {
		if ts.ExpectedExitCode > 0 {
			// Ensure that the OS exit handler was called when there was an
			// expected exit code.
			assert.True(tb, osExitCalled)
		}
	})

	ts.GlobalState = &state.GlobalState{
		Ctx:            ctx,
		FS:             fs,
		Getwd:          func() (string, error) { return ts.Cwd, nil },
		BinaryName:     "gcbridge",
		CmdArgs:        []string{},
		Env:            map[string]string{},
		DefaultFlags:   defaultFlags,
		Flags:          defaultFlags,
		Console:        con,
		Stdin:          new(bytes.Buffer),
		OSExit:         defaultOsExitHandle,
		HTTPClient:     http.DefaultClient,
		Logger:         logger,
		FallbackLogger: testutils.NewLogger(hook),
	}

	return ts
}
