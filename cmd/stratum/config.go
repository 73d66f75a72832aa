package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Config holds the CLI configuration, loadable from a YAML file and
// overridable by flags.
type Config struct {
	DataDir     string `yaml:"data_dir"`
	Path        string `yaml:"path"`
	LogLevel    string `yaml:"log_level"`
	LogJSON     bool   `yaml:"log_json"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// loadConfig merges the config file (if any) with command line flags.
// Flags that were set explicitly win over file values.
func loadConfig(cmd *cobra.Command) *Config {
	flags := cmd.Root().PersistentFlags()
	cfg := &Config{
		DataDir:  mustString(flags.GetString("data-dir")),
		Path:     mustString(flags.GetString("path")),
		LogLevel: mustString(flags.GetString("log-level")),
	}
	cfg.LogJSON, _ = flags.GetBool("log-json")

	file, _ := flags.GetString("config")
	if file == "" {
		return cfg
	}
	data, err := os.ReadFile(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cannot read config %s: %v\n", file, err)
		return cfg
	}
	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cannot parse config %s: %v\n", file, err)
		return cfg
	}
	if fileCfg.DataDir != "" && !flags.Changed("data-dir") {
		cfg.DataDir = fileCfg.DataDir
	}
	if fileCfg.Path != "" && !flags.Changed("path") {
		cfg.Path = fileCfg.Path
	}
	if fileCfg.LogLevel != "" && !flags.Changed("log-level") {
		cfg.LogLevel = fileCfg.LogLevel
	}
	if fileCfg.LogJSON && !flags.Changed("log-json") {
		cfg.LogJSON = true
	}
	cfg.MetricsAddr = fileCfg.MetricsAddr
	return cfg
}

func mustString(v string, _ error) string {
	return v
}
