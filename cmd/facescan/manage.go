package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/MrCodeEU/facescan/pkg/acceleration"
	"github.com/MrCodeEU/facescan/pkg/enroll"
	"github.com/MrCodeEU/facescan/pkg/logging"
	"github.com/MrCodeEU/facescan/pkg/storage"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrolled people",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		records, err := store.LoadAll()
		if err != nil {
			return err
		}
		printRecords(cmd.OutOrStdout(), records)
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a person from the face database",
	Long: `Deletes the stored embedding of a person. The person's photo folder is
left untouched, so the next rebuild enrolls them again unless it is removed too.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		identifier := enroll.NormalizeName(args[0])
		store, err := openStore()
		if err != nil {
			return err
		}
		if err := store.DeletePerson(identifier); err != nil {
			if errors.Is(err, storage.ErrPersonNotFound) {
				return fmt.Errorf("%s is not enrolled", args[0])
			}
			return err
		}
		logging.Infof("Removed %s from the face database", identifier)
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", identifier)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		printConfig(cmd.OutOrStdout())
		return nil
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Show which models are installed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		required := acceleration.Required(cfg.Recognition.Provider, cfg.Recognition.Detector)
		infos := acceleration.Inspect(cfg.Recognition.ModelPath, acceleration.Catalog(modelFiles(cfg)))
		printModels(cmd.OutOrStdout(), infos, required)
		return nil
	},
}

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "Show the detected inference backends",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		preferred, err := acceleration.ParseBackend(cfg.Acceleration.Backend)
		if err != nil {
			return err
		}
		manager := acceleration.NewManager()
		if err := manager.Initialize(acceleration.Config{
			PreferredBackend: preferred,
			FallbackToCPU:    cfg.Acceleration.FallbackToCPU,
		}); err != nil {
			return err
		}
		backends, err := manager.Backends()
		if err != nil {
			return err
		}
		printBackends(cmd.OutOrStdout(), backends, manager.GetActiveBackend())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd, removeCmd, configCmd, modelsCmd, backendsCmd)
}

func printConfig(w io.Writer) {
	logging.Debug("Showing configuration")

	fmt.Fprintln(w, "Current Configuration:")
	fmt.Fprintln(w, "======================")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "[Paths]")
	fmt.Fprintf(w, "  Known Faces:     %s\n", cfg.Paths.KnownFacesDir)
	fmt.Fprintf(w, "  Database:        %s\n", cfg.Paths.DatabaseDir)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "[Enrollment]")
	fmt.Fprintf(w, "  Target Name:     %s\n", cfg.Enrollment.TargetName)
	fmt.Fprintf(w, "  Image Size:      %dx%d\n", cfg.Enrollment.ImageSize, cfg.Enrollment.ImageSize)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "[Recognition]")
	fmt.Fprintf(w, "  Provider:        %s\n", cfg.Recognition.Provider)
	fmt.Fprintf(w, "  Detector:        %s\n", cfg.Recognition.Detector)
	fmt.Fprintf(w, "  Threshold:       %.2f\n", cfg.Recognition.Threshold)
	fmt.Fprintf(w, "  Model Path:      %s\n", cfg.Recognition.ModelPath)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "[Video]")
	fmt.Fprintf(w, "  Sample Interval: %s\n", cfg.Video.SampleInterval)
	fmt.Fprintf(w, "  Confidence:      %.2f\n", cfg.Video.DetectionConfidence)
	fmt.Fprintf(w, "  Face Size:       %dx%d\n", cfg.Video.FaceSize, cfg.Video.FaceSize)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "[Storage]")
	fmt.Fprintf(w, "  Encryption:      %t\n", cfg.Storage.EncryptionEnabled)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "[Acceleration]")
	fmt.Fprintf(w, "  Backend:         %s\n", cfg.Acceleration.Backend)
	fmt.Fprintf(w, "  CPU Fallback:    %t\n", cfg.Acceleration.FallbackToCPU)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "[Logging]")
	fmt.Fprintf(w, "  Level:           %s\n", cfg.Logging.Level)
	fmt.Fprintf(w, "  File:            %s\n", cfg.Logging.File)
}
