package log

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopCloser struct {
	io.Writer
	closed chan struct{}
}

func (nc *nopCloser) Close() error {
	close(nc.closed)
	return nil
}

func TestFileHookFromConfigLine(t *testing.T) {
	t.Parallel()

	tests := [...]struct {
		line       string
		err        bool
		errMessage string
		levels     []logrus.Level
	}{
		{
			line: "file",
			err:  true,
		},
		{
			line:   "file=/gcbridge.log,level=info",
			levels: logrus.AllLevels[:5],
		},
		{
			line:   "file=gcbridge.log",
			levels: logrus.AllLevels,
		},
		{
			line: "file=/a/c/",
			err:  true,
		},
		{
			line:       "file=,level=info",
			err:        true,
			errMessage: "filepath must not be empty",
		},
		{
			line: "file=/tmp/gcbridge.log,level=tea",
			err:  true,
		},
		{
			line: "file=/tmp/gcbridge.log,unknown",
			err:  true,
		},
		{
			line: "file=/tmp/gcbridge.log,level=",
			err:  true,
		},
		{
			line:       "file=/tmp/gcbridge.log,unknown=something",
			err:        true,
			errMessage: "unknown logfile config key unknown",
		},
		{
			line:       "unknown=something",
			err:        true,
			errMessage: "logfile configuration should be in the form `file=path-to-local-file` but is `unknown=something`",
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.line, func(t *testing.T) {
			t.Parallel()

			getCwd := func() (string, error) {
				return "/", nil
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			done := make(chan struct{})
			res, err := FileHookFromConfigLine(ctx, afero.NewMemMapFs(), getCwd, logrus.New(), test.line, done)

			if test.err {
				require.Error(t, err)

				if test.errMessage != "" {
					require.Equal(t, test.errMessage, err.Error())
				}

				return
			}

			require.NoError(t, err)
			assert.NotNil(t, res.(*fileHook).w) //nolint:forcetypeassert
			assert.Equal(t, test.levels, res.Levels())
			cancel()
			<-done
		})
	}
}

func TestFileHookFire(t *testing.T) {
	t.Parallel()

	var buffer bytes.Buffer
	nc := &nopCloser{
		Writer: &buffer,
		closed: make(chan struct{}),
	}

	hook := &fileHook{
		w:      nc,
		bw:     bufio.NewWriter(nc),
		levels: logrus.AllLevels,
		done:   make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	hook.loglines = hook.loop(ctx)

	logger := logrus.New()
	logger.AddHook(hook)
	logger.SetOutput(io.Discard)

	logger.Info("example log line")

	cancel()
	<-nc.closed
	<-hook.done

	assert.Contains(t, buffer.String(), "example log line")
}

func TestFileHookWritesToFs(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/logs", 0o755))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	hook, err := FileHookFromConfigLine(ctx, fs, func() (string, error) { return "/logs", nil },
		logrus.New(), "file=out.log,level=warning", done)
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetFormatter(RawFormatter{})
	logger.AddHook(hook)
	logger.Info("not written")
	logger.Warn("written")

	cancel()
	<-done

	data, err := afero.ReadFile(fs, "/logs/out.log")
	require.NoError(t, err)
	assert.Equal(t, "written\n", string(data))
}

func TestTokenize(t *testing.T) {
	t.Parallel()

	tokens, err := tokenize("file=/a.log,level=info")
	require.NoError(t, err)
	assert.Equal(t, []token{{key: "file", value: "/a.log"}, {key: "level", value: "info"}}, tokens)

	_, err = tokenize("empty=")
	assert.EqualError(t, err, "key `empty=` with no value")
	_, err = tokenize("nokey")
	assert.EqualError(t, err, "key `nokey` with no value")
}
