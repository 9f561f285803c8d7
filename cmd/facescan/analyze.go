package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/MrCodeEU/facescan/pkg/analysis"
	"github.com/MrCodeEU/facescan/pkg/video"
	"github.com/MrCodeEU/facescan/pkg/vision"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var analyzeThreshold float64

var analyzeCmd = &cobra.Command{
	Use:   "analyze <video>",
	Short: "Find enrolled people in a video",
	Long: `Samples the video at the configured interval, detects faces in each
sampled frame and prints every enrolled person the first time they are seen.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().Float64VarP(&analyzeThreshold, "threshold", "t", 0, "Similarity threshold (default from config)")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	videoPath, err := filepath.Abs(args[0])
	if err != nil {
		return fmt.Errorf("invalid video path %s: %w", args[0], err)
	}

	threshold := cfg.Recognition.Threshold
	if cmd.Flags().Changed("threshold") {
		threshold = analyzeThreshold
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	if err := analysis.Check(videoPath, store); err != nil {
		return err
	}

	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	scanner := video.NewScanner(vision.OpenVideo, eng.detector, video.Options{
		SampleInterval: cfg.Video.SampleInterval,
		Confidence:     cfg.Video.DetectionConfidence,
		FaceSize:       cfg.Video.FaceSize,
	})

	var bar *progressbar.ProgressBar
	scanner.Progress = func(stats video.Stats) {
		if bar == nil {
			total := stats.ExpectedSamples()
			if total == 0 {
				total = -1
			}
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionSetDescription("Scanning "+filepath.Base(videoPath)),
				progressbar.OptionShowCount(),
				progressbar.OptionSetItsString("frames"),
				progressbar.OptionShowIts(),
				progressbar.OptionClearOnFinish(),
				progressbar.OptionFullWidth(),
			)
		}
		_ = bar.Set(stats.FramesSampled)
	}

	out := cmd.OutOrStdout()
	analyzer := analysis.New(scanner, eng.crops, store, threshold)
	report, runErr := analyzer.Run(videoPath, func(s analysis.Sighting) {
		if bar != nil {
			_ = bar.Clear()
		}
		fmt.Fprintln(out, renderSighting(s))
	})
	if bar != nil {
		_ = bar.Finish()
	}

	if report != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderReport(report))
	}
	return runErr
}
