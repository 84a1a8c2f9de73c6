package util

import (
	"strings"

	"github.com/BiyanKilani/daos/lib/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupEngineFlags adds the engine tunables to a command
func SetupEngineFlags(cmd *cobra.Command) {
	def := common.DefaultEngineConfig()

	key := "cache-size"
	cmd.PersistentFlags().Int(key, def.CacheSize, WrapString("Maximum number of object references held by the object cache"))

	key = "hash-buckets"
	cmd.PersistentFlags().Int(key, def.HashBuckets, WrapString("Number of hash buckets of the object cache"))

	key = "oi-shards"
	cmd.PersistentFlags().Int(key, def.OIShards, WrapString("Number of object index shards per container"))

	key = "arena-chunk-size"
	cmd.PersistentFlags().Int(key, def.ArenaChunkSize, WrapString("Size in bytes of the chunks the pool arena grows by"))

	key = "arena-max-bytes"
	cmd.PersistentFlags().Int64(key, def.MaxBytes, WrapString("Capacity of the pool arena in bytes (0 = unlimited)"))

	key = "log-level"
	cmd.PersistentFlags().String(key, def.LogLevel, WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// InitConfig loads .env files and sets up viper to read VOS_* variables
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("vos")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// GetEngineConfig reads the engine configuration from viper
func GetEngineConfig() (*common.EngineConfig, error) {
	conf := &common.EngineConfig{
		CacheSize:      viper.GetInt("cache-size"),
		HashBuckets:    viper.GetInt("hash-buckets"),
		OIShards:       viper.GetInt("oi-shards"),
		ArenaChunkSize: viper.GetInt("arena-chunk-size"),
		MaxBytes:       viper.GetInt64("arena-max-bytes"),
		LogLevel:       viper.GetString("log-level"),
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// BindCommandFlags binds a command's flags, including the inherited
// persistent ones, to viper and initialises the loggers
func BindCommandFlags(cmd *cobra.Command) (*common.EngineConfig, error) {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	if err := viper.BindPFlags(cmd.InheritedFlags()); err != nil {
		return nil, err
	}
	conf, err := GetEngineConfig()
	if err != nil {
		return nil, err
	}
	if err := common.InitLoggers(conf); err != nil {
		return nil, err
	}
	return conf, nil
}
