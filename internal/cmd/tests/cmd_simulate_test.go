package tests

import (
	"net/url"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/liuxd6825/gcbridge/errext/exitcodes"
	"github.com/liuxd6825/gcbridge/internal/cmd"
	"github.com/liuxd6825/gcbridge/lib/sri"
	"github.com/liuxd6825/gcbridge/lib/testutils"
)

const countScript = `(function() {
	var endpoint = document.currentScript.dataset.goatcounter;
	window.goatcounter = {
		count: function(vars) {
			if (!vars.event) { throw new Error('only events here'); }
		},
		url: function(vars) {
			return endpoint + '?p=' + encodeURIComponent(vars.path) + (vars.event ? '&e=true' : '');
		},
		filter: function() {
			return location.hostname === 'localhost' ? 'localhost' : false;
		},
	};
})();`

func TestSimulate(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		args     []string
		url      string
		filtered *string
		counted  bool
	}{
		{
			name: "pageview",
			args: []string{"--location", "https://example.com/about?x=1"},
			url:  "https://example.goatcounter.com/count?p=%2Fabout%3Fx%3D1",
		},
		{
			name:    "event",
			args:    []string{"--path", "signup", "--event", "--count"},
			url:     "https://example.goatcounter.com/count?p=signup&e=true",
			counted: true,
		},
		{
			name:     "filtered",
			args:     []string{"--location", "http://localhost:8080/"},
			url:      "https://example.goatcounter.com/count?p=%2F",
			filtered: func() *string { s := "localhost"; return &s }(),
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ts := NewGlobalTestState(t)
			writePage(t, ts, "count.js", countScript)
			ts.CmdArgs = append([]string{
				"gcbridge", "simulate", "--endpoint", "https://example.goatcounter.com/count",
			}, append(tc.args, "count.js")...)

			cmd.ExecuteWithGlobalState(ts.GlobalState)

			var res struct {
				URL      string  `yaml:"url"`
				Filtered *string `yaml:"filtered"`
				Counted  bool    `yaml:"counted"`
			}
			require.NoError(t, yaml.Unmarshal(ts.Stdout.Bytes(), &res))
			assert.Equal(t, tc.url, res.URL)
			assert.Equal(t, tc.filtered, res.Filtered)
			assert.Equal(t, tc.counted, res.Counted)
		})
	}
}

// countV4Script reads its element and the page the way count.v4.js does.
const countV4Script = `;(function() {
	window.goatcounter = window.goatcounter || {}
	var script = document.querySelector('script[data-goatcounter]')
	var set = JSON.parse(script.getAttribute('data-goatcounter-settings') || '{}')
	for (var k in set)
		window.goatcounter[k] = set[k]

	var get_data = function(vars) {
		return {
			p: vars.path || (location.pathname + location.search),
			t: vars.title || document.title,
			r: vars.referrer || document.referrer,
			s: [screen.width, screen.height, devicePixelRatio].join(','),
		}
	}
	goatcounter.filter = function() {
		if (document.visibilityState === 'prerender') return 'visibilityState'
		if (location !== parent.location) return 'frame'
		if (location.hostname.match(/localhost$/)) return 'localhost'
		if (localStorage.getItem('skipgc') === 't') return 'disabled'
		return false
	}
	goatcounter.url = function(vars) {
		var data = get_data(vars || {}), p = []
		for (var k in data)
			p.push(k + '=' + encodeURIComponent(data[k]))
		return script.getAttribute('data-goatcounter') + '?' + p.join('&')
	}
	goatcounter.count = function(vars) {
		var f = goatcounter.filter()
		if (f) return console.warn('not counting because of: ' + f)
		if (!navigator.sendBeacon(goatcounter.url(vars))) {
			var img = document.createElement('img')
			img.src = goatcounter.url(vars)
			document.body.appendChild(img)
			setTimeout(function() { document.body.removeChild(img) }, 3000)
		}
	}
	if (!goatcounter.no_onload)
		goatcounter.count()
})();`

func TestSimulateBrowserScript(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		args     []string
		requests []string
	}{
		{
			name:     "onload",
			requests: []string{"/about"},
		},
		{
			name: "no onload",
			args: []string{"--no-onload"},
		},
		{
			name:     "onload and event",
			args:     []string{"--path", "signup", "--event", "--count"},
			requests: []string{"/about", "signup"},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ts := NewGlobalTestState(t)
			writePage(t, ts, "count.v4.js", countV4Script)
			ts.CmdArgs = append([]string{
				"gcbridge", "simulate", "--endpoint", "https://example.goatcounter.com/count",
				"--location", "https://example.com/about",
				"--title", "About", "--referrer", "https://ref.example/",
			}, append(tc.args, "count.v4.js")...)

			cmd.ExecuteWithGlobalState(ts.GlobalState)

			var res struct {
				URL      string   `yaml:"url"`
				Filtered *string  `yaml:"filtered"`
				Requests []string `yaml:"requests"`
			}
			require.NoError(t, yaml.Unmarshal(ts.Stdout.Bytes(), &res))
			assert.Nil(t, res.Filtered)
			assert.True(t, strings.HasPrefix(res.URL, "https://example.goatcounter.com/count?"), res.URL)

			require.Len(t, res.Requests, len(tc.requests))
			for i, r := range res.Requests {
				u, err := url.Parse(r)
				require.NoError(t, err)
				assert.Equal(t, tc.requests[i], u.Query().Get("p"))
				assert.Equal(t, "About", u.Query().Get("t"))
				assert.Equal(t, "https://ref.example/", u.Query().Get("r"))
				assert.Equal(t, "1920,1080,1", u.Query().Get("s"))
			}
		})
	}
}

func TestSimulateFailures(t *testing.T) {
	t.Parallel()

	t.Run("vendor exception", func(t *testing.T) {
		t.Parallel()
		ts := NewGlobalTestState(t)
		writePage(t, ts, "count.js", countScript)
		ts.CmdArgs = []string{"gcbridge", "simulate", "--count", "count.js"}
		ts.ExpectedExitCode = int(exitcodes.ScriptException)

		cmd.ExecuteWithGlobalState(ts.GlobalState)
		assert.True(t, testutils.LogContains(ts.LoggerHook.Drain(), logrus.ErrorLevel, "only events here"))
	})

	t.Run("integrity mismatch", func(t *testing.T) {
		t.Parallel()
		ts := NewGlobalTestState(t)
		writePage(t, ts, "count.js", countScript)
		ts.CmdArgs = []string{
			"gcbridge", "simulate", "--timeout", "200ms",
			"--integrity", sri.Compute([]byte("something else")), "count.js",
		}
		ts.ExpectedExitCode = int(exitcodes.ScriptException)

		cmd.ExecuteWithGlobalState(ts.GlobalState)
		entries := ts.LoggerHook.Drain()
		assert.True(t, testutils.LogContains(entries, logrus.WarnLevel, "doesn't match the integrity attribute"))
		assert.True(t, testutils.LogContains(entries, logrus.ErrorLevel, "wasn't available in time"))
	})

	t.Run("no global", func(t *testing.T) {
		t.Parallel()
		ts := NewGlobalTestState(t)
		writePage(t, ts, "empty.js", "var nothing = true;")
		ts.CmdArgs = []string{"gcbridge", "simulate", "--timeout", "200ms", "empty.js"}
		ts.ExpectedExitCode = int(exitcodes.ScriptException)

		cmd.ExecuteWithGlobalState(ts.GlobalState)
		assert.True(t, testutils.LogContains(ts.LoggerHook.Drain(), logrus.WarnLevel, "global not available"))
	})

	t.Run("stdin", func(t *testing.T) {
		t.Parallel()
		ts := NewGlobalTestState(t)
		ts.CmdArgs = []string{"gcbridge", "simulate", "-"}
		ts.ExpectedExitCode = int(exitcodes.InvalidConfig)
		cmd.ExecuteWithGlobalState(ts.GlobalState)
	})
}
