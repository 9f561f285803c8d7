package main

import (
	"fmt"

	"github.com/MrCodeEU/facescan/pkg/enroll"
	"github.com/MrCodeEU/facescan/pkg/matcher"
	"github.com/MrCodeEU/facescan/pkg/recognition"
	"github.com/spf13/cobra"
)

var matchThreshold float64

var matchCmd = &cobra.Command{
	Use:   "match <image>",
	Short: "Identify the person in a photo",
	Args:  cobra.ExactArgs(1),
	RunE:  runMatch,
}

func init() {
	matchCmd.Flags().Float64VarP(&matchThreshold, "threshold", "t", 0, "Similarity threshold (default from config)")
	rootCmd.AddCommand(matchCmd)
}

func runMatch(cmd *cobra.Command, args []string) error {
	threshold := cfg.Recognition.Threshold
	if cmd.Flags().Changed("threshold") {
		threshold = matchThreshold
	}

	img, err := enroll.LoadImage(args[0])
	if err != nil {
		return err
	}

	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	store, err := openStore()
	if err != nil {
		return err
	}

	if cfg.Enrollment.ImageSize > 0 {
		img = recognition.Resize(img, cfg.Enrollment.ImageSize)
	}
	embedding, err := eng.photos.Embed(img)
	if err != nil {
		return fmt.Errorf("failed to embed %s: %w", args[0], err)
	}

	result, err := matcher.New(store, threshold).Match(embedding)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderMatch(result, threshold))
	return nil
}
