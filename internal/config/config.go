// Package config loads mosaic's runtime configuration the way the rest
// of the retrieved corpus does: a YAML file plus environment variable
// overrides, layered through spf13/viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "MOSAIC"

var v *viper.Viper

// Keys are the configuration keys Initialize seeds with defaults.
const (
	KeyDBPath          = "db-path"
	KeyLogLevel        = "log-level"
	KeyLogJSON         = "log-json"
	KeyByteBudget      = "ingest-byte-budget"
	KeyArenaSlabSize   = "arena-slab-size"
	KeyParquetParallel = "parquet-parallelism"
)

// Initialize (re)creates the package-level viper instance, seeds its
// defaults, binds MOSAIC_-prefixed environment variables, and, if
// configPath is non-empty, merges in that YAML file.
func Initialize(configPath string) error {
	v = viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault(KeyDBPath, "")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogJSON, false)
	v.SetDefault(KeyByteBudget, 4<<20)
	v.SetDefault(KeyArenaSlabSize, 64<<10)
	v.SetDefault(KeyParquetParallel, 4)

	if configPath == "" {
		return nil
	}
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: read %s: %w", configPath, err)
	}
	return nil
}

func ensure() *viper.Viper {
	if v == nil {
		_ = Initialize("")
	}
	return v
}

func GetString(key string) string          { return ensure().GetString(key) }
func GetBool(key string) bool               { return ensure().GetBool(key) }
func GetInt(key string) int                 { return ensure().GetInt(key) }
func GetDuration(key string) time.Duration  { return ensure().GetDuration(key) }
