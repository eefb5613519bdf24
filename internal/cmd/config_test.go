package cmd

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/gcbridge/errext"
	"github.com/liuxd6825/gcbridge/errext/exitcodes"
	"github.com/liuxd6825/gcbridge/internal/cmd/tests"
	"github.com/liuxd6825/gcbridge/lib"
)

func TestMain(m *testing.M) {
	tests.Main(m)
}

func TestGetConfigOnlyChangedFlags(t *testing.T) {
	t.Parallel()

	flags := configFlagSet()
	require.NoError(t, flags.Parse([]string{"--no-onload", "--allow-local=false", "--script-version", "4"}))
	conf := getConfig(flags)

	assert.Equal(t, null.BoolFrom(true), conf.Settings.NoOnload)
	assert.Equal(t, null.BoolFrom(false), conf.Settings.AllowLocal)
	assert.False(t, conf.Settings.NoEvents.Valid)
	assert.False(t, conf.Endpoint.Valid)
	assert.Equal(t, lib.NullVersionFrom("4"), conf.Version)
}

func TestConfigConsolidation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		file  string
		env   map[string]string
		flags []string
		check func(t *testing.T, conf lib.Config)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, conf lib.Config) {
				assert.Equal(t, lib.Config{}, conf)
			},
		},
		{
			name: "file",
			file: `{"endpoint": "https://file.goatcounter.com/count", "version": 4, "settings": {"no_events": true}}`,
			check: func(t *testing.T, conf lib.Config) {
				assert.Equal(t, null.StringFrom("https://file.goatcounter.com/count"), conf.Endpoint)
				assert.Equal(t, lib.NullVersionFrom("4"), conf.Version)
				assert.Equal(t, null.BoolFrom(true), conf.Settings.NoEvents)
			},
		},
		{
			name: "env over file",
			file: `{"endpoint": "https://file.goatcounter.com/count", "settings": {"no_events": true}}`,
			env: map[string]string{
				"GCBRIDGE_ENDPOINT":           "https://env.goatcounter.com/count",
				"GCBRIDGE_SETTINGS_NO_EVENTS": "false",
				"GCBRIDGE_VERSION":            "5",
			},
			check: func(t *testing.T, conf lib.Config) {
				assert.Equal(t, null.StringFrom("https://env.goatcounter.com/count"), conf.Endpoint)
				assert.Equal(t, null.BoolFrom(false), conf.Settings.NoEvents)
				assert.Equal(t, lib.NullVersionFrom("5"), conf.Version)
			},
		},
		{
			name:  "flags over env",
			env:   map[string]string{"GCBRIDGE_ENDPOINT": "https://env.goatcounter.com/count"},
			flags: []string{"--endpoint", "https://flag.goatcounter.com/count", "--allow-frame"},
			check: func(t *testing.T, conf lib.Config) {
				assert.Equal(t, null.StringFrom("https://flag.goatcounter.com/count"), conf.Endpoint)
				assert.Equal(t, null.BoolFrom(true), conf.Settings.AllowFrame)
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ts := tests.NewGlobalTestState(t)
			if tc.file != "" {
				require.NoError(t, afero.WriteFile(ts.FS, ts.Flags.ConfigFilePath, []byte(tc.file), 0o644))
			}
			for k, v := range tc.env {
				ts.Env[k] = v
			}
			flags := configFlagSet()
			require.NoError(t, flags.Parse(tc.flags))

			conf, err := getConsolidatedConfig(ts.GlobalState, getConfig(flags))
			require.NoError(t, err)
			tc.check(t, conf)
		})
	}
}

func TestConfigErrors(t *testing.T) {
	t.Parallel()

	t.Run("missing explicit file", func(t *testing.T) {
		t.Parallel()
		ts := tests.NewGlobalTestState(t)
		ts.Flags.ConfigFilePath = "/nope.json"
		_, err := getConsolidatedConfig(ts.GlobalState, lib.Config{})
		require.Error(t, err)
		var ecerr errext.HasExitCode
		require.ErrorAs(t, err, &ecerr)
		assert.Equal(t, exitcodes.InvalidConfig, ecerr.ExitCode())
	})

	t.Run("invalid file", func(t *testing.T) {
		t.Parallel()
		ts := tests.NewGlobalTestState(t)
		require.NoError(t, afero.WriteFile(ts.FS, ts.Flags.ConfigFilePath, []byte(`{"endpoint": 1`), 0o644))
		_, err := getConsolidatedConfig(ts.GlobalState, lib.Config{})
		assert.ErrorContains(t, err, "couldn't parse the config file")
	})

	t.Run("invalid env", func(t *testing.T) {
		t.Parallel()
		ts := tests.NewGlobalTestState(t)
		ts.Env["GCBRIDGE_SETTINGS_NO_ONLOAD"] = "maybe"
		_, err := getConsolidatedConfig(ts.GlobalState, lib.Config{})
		assert.ErrorContains(t, err, "invalid environment configuration")
	})
}

func TestLoadVersions(t *testing.T) {
	t.Parallel()

	ts := tests.NewGlobalTestState(t)
	require.NoError(t, afero.WriteFile(ts.FS, "/versions.yaml", []byte("\"5\": sha384-abc\n"), 0o644))

	versions, err := loadVersions(ts.GlobalState, "/versions.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "5"}, versions.Versions())

	_, err = loadVersions(ts.GlobalState, "/missing.yaml")
	var hinted errext.HasHint
	require.ErrorAs(t, err, &hinted)
	assert.Contains(t, hinted.Hint(), "JSON or YAML")
}
