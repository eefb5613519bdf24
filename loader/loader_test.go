package loader

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/gcbridge/lib/testutils"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	pwd := &url.URL{Scheme: "file", Path: "/home/site"}
	testCases := []struct {
		specifier, exp string
	}{
		{"https://gc.zgo.at/count.v4.js", "https://gc.zgo.at/count.v4.js"},
		{"file:///srv/gc.js", "file:///srv/gc.js"},
		{"/srv/../srv/gc.js", "file:///srv/gc.js"},
		{"static/gc.js", "file:///home/site/static/gc.js"},
		{"./gc.js", "file:///home/site/gc.js"},
	}
	for _, tc := range testCases {
		u, err := Resolve(pwd, tc.specifier)
		require.NoError(t, err, tc.specifier)
		assert.Equal(t, tc.exp, u.String(), tc.specifier)
	}

	_, err := Resolve(pwd, "")
	assert.Error(t, err)
	_, err = Resolve(pwd, "http://gc.zgo.at/count.js")
	assert.ErrorContains(t, err, "only file and https sources are supported")
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	osfs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(osfs, "/srv/gc.js", []byte("window.goatcounter = {}"), 0o644))
	l := New(testutils.NewLogger(testutils.NewLogHook()), CreateFilesystems(osfs), nil)

	src, err := l.Load(context.Background(), &url.URL{Scheme: "file", Path: "/srv/gc.js"})
	require.NoError(t, err)
	assert.Equal(t, "window.goatcounter = {}", string(src.Data))

	_, err = l.Load(context.Background(), &url.URL{Scheme: "file", Path: "/srv/missing.js"})
	assert.ErrorContains(t, err, "couldn't be found on local disk")

	_, err = l.Load(context.Background(), &url.URL{Scheme: "ftp", Host: "example.com", Path: "/gc.js"})
	assert.ErrorContains(t, err, "no filesystem")
}

func TestLoadHTTPS(t *testing.T) {
	t.Parallel()

	var hits int64
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		if r.URL.Path != "/count.js" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("window.goatcounter = {count: function() {}}"))
	}))
	defer srv.Close()

	hook := testutils.NewLogHook(logrus.DebugLevel)
	l := New(testutils.NewLogger(hook), CreateFilesystems(afero.NewMemMapFs()), srv.Client())

	u, err := url.Parse(srv.URL + "/count.js")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		src, err := l.Load(context.Background(), u)
		require.NoError(t, err)
		assert.Contains(t, string(src.Data), "window.goatcounter")
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits), "later loads are served from the cache")
	assert.True(t, testutils.LogContains(hook.Drain(), logrus.DebugLevel, "Fetched!"))

	missing, err := url.Parse(srv.URL + "/count.v999.js")
	require.NoError(t, err)
	_, err = l.Load(context.Background(), missing)
	assert.ErrorContains(t, err, "not found")
}

func TestReadSource(t *testing.T) {
	t.Parallel()

	osfs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(osfs, "/home/site/gc.js", []byte("local"), 0o644))
	l := New(testutils.NewLogger(testutils.NewLogHook()), CreateFilesystems(osfs), nil)
	ctx := context.Background()

	src, err := l.ReadSource(ctx, "gc.js", "/home/site", nil)
	require.NoError(t, err)
	assert.Equal(t, "local", string(src.Data))
	assert.Equal(t, "file:///home/site/gc.js", src.URL.String())

	src, err = l.ReadSource(ctx, "/home/site/gc.js", "/", nil)
	require.NoError(t, err)
	assert.Equal(t, "local", string(src.Data))

	src, err = l.ReadSource(ctx, "-", "/", bytes.NewBufferString("from stdin"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", string(src.Data))
}
