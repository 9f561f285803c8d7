package main

import (
	"compress/bzip2"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/MrCodeEU/facescan/pkg/acceleration"
	"github.com/MrCodeEU/facescan/pkg/logging"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var downloadAll bool

var downloadCmd = &cobra.Command{
	Use:   "download-models [dir]",
	Short: "Download the pretrained models",
	Long: `Downloads the models needed by the configured provider and detector into
the model directory. Use --all to fetch every supported model.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().BoolVar(&downloadAll, "all", false, "Download every supported model")
	rootCmd.AddCommand(downloadCmd)
}

func runDownload(cmd *cobra.Command, args []string) error {
	modelDir := cfg.Recognition.ModelPath
	if len(args) > 0 {
		modelDir = args[0]
	}

	logging.Infof("Downloading models to: %s", modelDir)

	if err := os.MkdirAll(modelDir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	models := acceleration.Catalog(modelFiles(cfg))
	if !downloadAll {
		models = acceleration.Select(models, acceleration.Required(cfg.Recognition.Provider, cfg.Recognition.Detector))
	}

	for _, info := range acceleration.Inspect(modelDir, models) {
		if info.Present {
			logging.Infof("Model %s already exists, skipping", info.File)
			continue
		}

		logging.Infof("Downloading %s...", info.File)
		if err := downloadModel(info.URL, info.Path, info.Compression); err != nil {
			return fmt.Errorf("failed to download %s: %w", info.File, err)
		}
		logging.Infof("Successfully downloaded %s", info.File)
	}

	logging.Info("All models downloaded successfully!")
	return nil
}

// downloadModel fetches url into targetPath. The file only appears under its
// final name once fully written.
func downloadModel(url, targetPath string, compression acceleration.Compression) error {
	client := &http.Client{
		Timeout: 10 * time.Minute,
	}

	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(targetPath))
	defer func() { _ = bar.Finish() }()

	var body io.Reader = io.TeeReader(resp.Body, bar)
	if compression == acceleration.CompressionBzip2 {
		body = bzip2.NewReader(body)
	}

	tmp, err := os.CreateTemp(filepath.Dir(targetPath), ".download-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, body); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), targetPath)
}
