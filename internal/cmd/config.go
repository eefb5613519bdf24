package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"

	"github.com/mstoykov/envconfig"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/liuxd6825/gcbridge/cmd/state"
	"github.com/liuxd6825/gcbridge/errext"
	"github.com/liuxd6825/gcbridge/errext/exitcodes"
	"github.com/liuxd6825/gcbridge/lib"
	"github.com/liuxd6825/gcbridge/lib/sri"
)

const envPrefix = "GCBRIDGE"

// configFlagSet returns the flags that map onto lib.Config.
func configFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.String("endpoint", "", "URL hits are sent to, the data-goatcounter attribute")
	flags.String("script-version", "", "pin this script version if its integrity hash is known")
	flags.String("src", "", "load the script from this URL instead of the versioned one")
	flags.String("integrity", "", "integrity hash of --src or of --script-version")
	flags.Bool("no-onload", false, "don't count the pageview when the script loads")
	flags.Bool("no-events", false, "don't bind click events automatically")
	flags.Bool("allow-local", false, "count requests from localhost and private networks")
	flags.Bool("allow-frame", false, "count requests from inside frames")
	flags.String("settings-endpoint", "", "endpoint in the settings JSON, overrides the attribute")
	return flags
}

func getConfig(flags *pflag.FlagSet) lib.Config {
	return lib.Config{
		Src:       getNullString(flags, "src"),
		Integrity: getNullString(flags, "integrity"),
		Version:   lib.NullVersion{String: getNullString(flags, "script-version")},
		Endpoint:  getNullString(flags, "endpoint"),
		Settings: lib.Settings{
			NoOnload:   getNullBool(flags, "no-onload"),
			NoEvents:   getNullBool(flags, "no-events"),
			AllowLocal: getNullBool(flags, "allow-local"),
			AllowFrame: getNullBool(flags, "allow-frame"),
			Endpoint:   getNullString(flags, "settings-endpoint"),
		},
	}
}

// readDiskConfig reads the JSON config file. A missing file is only an error
// when it isn't the default one.
func readDiskConfig(gs *state.GlobalState) (lib.Config, error) {
	var conf lib.Config
	path := gs.Flags.ConfigFilePath
	data, err := afero.ReadFile(gs.FS, path)
	if errors.Is(err, fs.ErrNotExist) && path == gs.DefaultFlags.ConfigFilePath {
		gs.Logger.WithField("path", path).Debug("No config file")
		return conf, nil
	}
	if err != nil {
		return conf, fmt.Errorf("couldn't read the config file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &conf); err != nil {
		return conf, fmt.Errorf("couldn't parse the config file %s: %w", path, err)
	}
	return conf, nil
}

func readEnvConfig(env map[string]string) (lib.Config, error) {
	var conf lib.Config
	err := envconfig.Process(envPrefix, &conf, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	return conf, err
}

// getConsolidatedConfig merges, in increasing priority, the config file, the
// environment and the CLI flags.
func getConsolidatedConfig(gs *state.GlobalState, cliConf lib.Config) (lib.Config, error) {
	fileConf, err := readDiskConfig(gs)
	if err != nil {
		return lib.Config{}, errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	envConf, err := readEnvConfig(gs.Env)
	if err != nil {
		return lib.Config{}, errext.WithExitCodeIfNone(
			fmt.Errorf("invalid environment configuration: %w", err), exitcodes.InvalidConfig)
	}
	return fileConf.Apply(envConf).Apply(cliConf), nil
}

// loadVersions returns the bundled version table, extended with the file at
// path if it isn't empty.
func loadVersions(gs *state.GlobalState, path string) (sri.Table, error) {
	versions := sri.Default()
	if path == "" {
		return versions, nil
	}
	extra, err := sri.Load(gs.FS, path)
	if err != nil {
		return nil, errext.WithExitCodeIfNone(
			errext.WithHint(err, "the versions file maps script versions to integrity hashes, in JSON or YAML"),
			exitcodes.InvalidConfig)
	}
	return versions.Merge(extra), nil
}
