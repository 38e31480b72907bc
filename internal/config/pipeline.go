package config

import (
	"flag"
	"fmt"
	"io"
)

// HandleEarlyExits handles -help, -version and -validate. Returns true when the
// caller should exit, with the exit code to use.
func HandleEarlyExits(cfg *Config, fs *flag.FlagSet, w io.Writer) (bool, int) {
	if cfg.ShowHelp {
		PrintUsage(w, fs)
		return true, 0
	}

	if cfg.ShowVersion {
		PrintVersion(w)
		return true, 0
	}

	if cfg.ValidateConfig {
		if cfg.ConfigFile == "" {
			fmt.Fprintln(w, "Error: -validate requires -config")
			return true, 2
		}
		result := ValidateFile(cfg.ConfigFile)
		fmt.Fprintln(w, result.JSON())
		if !result.Valid {
			return true, 1
		}
		return true, 0
	}

	return false, 0
}
