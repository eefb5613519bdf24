package state

import (
	"path/filepath"

	"github.com/liuxd6825/gcbridge/lib/consts"
)

const defaultConfigFileName = "config.json"

// GlobalOptions contains global config values that apply for all sub-commands.
type GlobalOptions struct {
	ConfigFilePath string
	NoColor        bool
	LogOutput      string
	LogFormat      string
	Verbose        bool
}

// GetDefaultGlobalOptions returns the default global options.
func GetDefaultGlobalOptions(confDir string) GlobalOptions {
	return GlobalOptions{
		ConfigFilePath: filepath.Join(confDir, consts.BinaryName, defaultConfigFileName),
		LogOutput:      "stderr",
		LogFormat:      "text",
	}
}

func consolidateGlobalFlags(defaultFlags GlobalOptions, env map[string]string) GlobalOptions {
	result := defaultFlags

	if val, ok := env["GCBRIDGE_CONFIG"]; ok {
		result.ConfigFilePath = val
	}
	if val, ok := env["GCBRIDGE_LOG_OUTPUT"]; ok {
		result.LogOutput = val
	}
	if val, ok := env["GCBRIDGE_LOG_FORMAT"]; ok {
		result.LogFormat = val
	}
	if env["GCBRIDGE_NO_COLOR"] != "" {
		result.NoColor = true
	}
	// Support https://no-color.org/, even an empty value should disable the
	// color output.
	if _, ok := env["NO_COLOR"]; ok {
		result.NoColor = true
	}
	if env["GCBRIDGE_VERBOSE"] != "" {
		result.Verbose = true
	}
	return result
}
