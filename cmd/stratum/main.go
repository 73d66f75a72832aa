package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stratumdb/stratum/pkg/log"
	"github.com/stratumdb/stratum/pkg/metrics"
	"github.com/stratumdb/stratum/pkg/odb"
	"github.com/stratumdb/stratum/pkg/ref"
	"github.com/stratumdb/stratum/pkg/substrate"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "stratum",
	Short: "Stratum - versioned object database",
	Long: `Stratum is an embedded, versioned object database: a graph of typed
objects on a copy-on-write keyed store, with snapshot-isolated
transactions merged at commit time.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Stratum version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("data-dir", defaultDataDir(), "Data directory")
	rootCmd.PersistentFlags().String("path", "default", "Database path name")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(classesCmd)
	rootCmd.AddCommand(namesCmd)
}

func initLogging() {
	cfg := loadConfig(rootCmd)
	log.Init(log.Config{
		Level:      log.Level(cfg.LogLevel),
		JSONOutput: cfg.LogJSON,
	})
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create and initialize a database path",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig(cmd)
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		db, err := odb.Setup(store, cfg.Path)
		if err != nil {
			return err
		}
		fmt.Printf("Initialized path %q in %s\n", db.Path(), cfg.DataDir)
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the paths and published roots of a store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig(cmd)
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		paths, err := store.Paths()
		if err != nil {
			return err
		}
		for _, p := range paths {
			current, err := store.CurrentSnapshot(p)
			if err != nil {
				return err
			}
			fmt.Printf("%s\tcurrent root %s\n", p, current)
		}
		return nil
	},
}

var classesCmd = &cobra.Command{
	Use:   "classes",
	Short: "List the classes defined in a path",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig(cmd)
		return withTransaction(cfg, func(t *odb.Transaction) error {
			list, err := t.ClassNamesList()
			if err != nil {
				return err
			}
			return list.Each(func(r ref.Ref) error {
				class, err := t.GetClass(r)
				if err != nil {
					return err
				}
				fmt.Printf("%s\t%s\n", class.Name(), class.Ref())
				return nil
			})
		})
	},
}

var namesCmd = &cobra.Command{
	Use:   "names",
	Short: "List the named items of a path",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig(cmd)
		return withTransaction(cfg, func(t *odb.Transaction) error {
			list, err := t.NamedItemsList()
			if err != nil {
				return err
			}
			namer, err := t.GetClass(odb.NamerClassRef)
			if err != nil {
				return err
			}
			return list.Each(func(r ref.Ref) error {
				obj, err := t.GetObject(namer, r)
				if err != nil {
					return err
				}
				name, err := obj.GetString("name")
				if err != nil {
					return err
				}
				target, err := obj.GetString("ref")
				if err != nil {
					return err
				}
				fmt.Printf("%s\t%s\n", name, target)
				return nil
			})
		})
	},
}

func openStore(cfg *Config) (*substrate.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	store, err := substrate.OpenBolt(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				log.Errorf("metrics server stopped", err)
			}
		}()
	}
	return store, nil
}

func withTransaction(cfg *Config, fn func(*odb.Transaction) error) error {
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	db, err := odb.Open(store, cfg.Path)
	if err != nil {
		return err
	}
	t, err := db.ReadTransaction()
	if err != nil {
		return err
	}
	defer t.Close()
	return fn(t)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./stratum-data"
	}
	return home + "/.stratum"
}
