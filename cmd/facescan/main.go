package main

import (
	"fmt"
	"io"
	"os"

	"github.com/MrCodeEU/facescan/pkg/config"
	"github.com/MrCodeEU/facescan/pkg/logging"
	"github.com/MrCodeEU/facescan/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	cfg       *config.Config
	cfgFile   string
	debug     bool
	logCloser io.Closer = io.NopCloser(nil)
)

var rootCmd = &cobra.Command{
	Use:   "facescan",
	Short: "Enroll known faces and find them in videos",
	Long: `facescan builds a small database of face embeddings from folders of
reference photos (one folder per person) and scans videos for those people.

Typical workflow:
  facescan download-models
  facescan enroll "Alice"
  facescan analyze party.mp4`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logCloser.Close()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logging.WithError(err).Debug("Command failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

// initConfig resolves the configuration once, before any command runs.
func initConfig(cmd *cobra.Command, args []string) error {
	var err error
	if cfgFile != "" {
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config %s: %w", cfgFile, err)
		}
	} else {
		cfg, err = config.LoadDefault()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
			cfg = config.DefaultConfig()
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	cfg.ExpandPaths()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logCloser, err = logging.Init(level, cfg.Logging.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	logging.Debugf("facescan %s starting", Version)
	logging.Debugf("Known faces: %s, database: %s", cfg.Paths.KnownFacesDir, cfg.Paths.DatabaseDir)
	return nil
}

func openStore() (*storage.FileStorage, error) {
	return storage.NewFileStorage(cfg.Paths.DatabaseDir, cfg.Storage.EncryptionEnabled)
}
