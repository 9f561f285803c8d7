package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/MrCodeEU/facescan/pkg/enroll"
	"github.com/MrCodeEU/facescan/pkg/logging"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	enrollName string
	enrollYes  bool
)

var enrollCmd = &cobra.Command{
	Use:   "enroll [name]",
	Short: "Add a person and rebuild the face database",
	Long: `Creates (or reuses) the person's folder inside the known-faces directory,
waits until reference photos have been copied there and rebuilds the whole
face database. Supported formats: .jpg, .jpeg, .png.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEnroll,
}

var (
	buildPerson string
	buildPrune  bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Rebuild the face database from the known-faces directory",
	Args:  cobra.NoArgs,
	RunE:  runBuild,
}

func init() {
	enrollCmd.Flags().StringVarP(&enrollName, "name", "n", "", "Name of the person to enroll")
	enrollCmd.Flags().BoolVarP(&enrollYes, "yes", "y", false, "Do not wait for confirmation")
	rootCmd.AddCommand(enrollCmd)

	buildCmd.Flags().StringVar(&buildPerson, "person", "", "Only rebuild this person")
	buildCmd.Flags().BoolVar(&buildPrune, "prune", false, "Remove records without a known-faces folder")
	rootCmd.AddCommand(buildCmd)
}

func runEnroll(cmd *cobra.Command, args []string) error {
	name, err := resolveName(args, enrollName, cfg.Enrollment.TargetName, cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	identifier := enroll.NormalizeName(name)
	if identifier == "" {
		return fmt.Errorf("name %q does not contain any usable characters", name)
	}

	dir := cfg.PersonDir(identifier)
	created, err := ensureDir(dir)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Place reference photos of %s in:\n  %s\n", name, dir)
	if !enrollYes {
		fmt.Fprint(cmd.OutOrStdout(), "Press Enter when done...")
		_, _ = bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	}

	images, err := enroll.ListImages(dir)
	if err != nil {
		return err
	}
	if len(images) == 0 {
		removeIfCreated(dir, created)
		return fmt.Errorf("no images found in %s", dir)
	}

	summary, err := rebuild()
	if err != nil {
		return err
	}

	for _, id := range summary.Identifiers() {
		if id == identifier {
			fmt.Fprintf(cmd.OutOrStdout(), "%s enrolled.\n", name)
			return nil
		}
	}

	removeIfCreated(dir, created)
	return fmt.Errorf("%w: no face found in the photos of %s", enroll.ErrNoValidImages, name)
}

func runBuild(cmd *cobra.Command, args []string) error {
	if buildPerson != "" {
		return buildOne(cmd.OutOrStdout(), buildPerson)
	}

	summary, err := rebuild()
	if err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), summary)

	if buildPrune {
		return prune(cmd.OutOrStdout())
	}
	return nil
}

// rebuild enrolls every person folder with a progress bar over all images.
func rebuild() (*enroll.Summary, error) {
	eng, err := newEngine(cfg)
	if err != nil {
		return nil, err
	}
	defer eng.Close()

	store, err := openStore()
	if err != nil {
		return nil, err
	}

	total, err := countImages(cfg.Paths.KnownFacesDir)
	if err != nil {
		return nil, err
	}

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Enrolling faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)
	defer func() { _ = bar.Finish() }()

	builder := enroll.NewBuilder(eng.photos, store, cfg.Enrollment.ImageSize)
	builder.OnImage = func(identifier, path string) {
		_ = bar.Add(1)
	}

	return builder.BuildAll(cfg.Paths.KnownFacesDir)
}

func buildOne(w io.Writer, name string) error {
	identifier := enroll.NormalizeName(name)
	dir := cfg.PersonDir(identifier)
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("no known-faces folder for %s: %s", name, dir)
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

	result, err := enroll.NewBuilder(eng.photos, store, cfg.Enrollment.ImageSize).BuildPerson(identifier, dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: %d of %d photos used\n", result.Identifier, result.Embedded, result.Images)
	return nil
}

// prune removes records whose person folder no longer exists.
func prune(w io.Writer) error {
	dirs, err := enroll.PersonDirs(cfg.Paths.KnownFacesDir)
	if err != nil {
		return err
	}
	keep := make([]string, 0, len(dirs))
	for _, d := range dirs {
		keep = append(keep, enroll.NormalizeName(filepath.Base(d)))
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	removed, err := store.Prune(keep)
	if err != nil {
		return err
	}
	for _, id := range removed {
		fmt.Fprintf(w, "Removed stale record: %s\n", id)
	}
	return nil
}

// resolveName picks the person name from the argument, the flag, or an
// interactive prompt that offers fallback as its default.
func resolveName(args []string, flagValue, fallback string, in io.Reader, out io.Writer) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}
	if strings.TrimSpace(flagValue) != "" {
		return strings.TrimSpace(flagValue), nil
	}

	if fallback != "" {
		fmt.Fprintf(out, "Name of the person [%s]: ", fallback)
	} else {
		fmt.Fprint(out, "Name of the person: ")
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read name: %w", err)
	}
	name := strings.TrimSpace(line)
	if name == "" {
		name = fallback
	}
	if name == "" {
		return "", errors.New("a name is required")
	}
	return name, nil
}

// ensureDir creates dir if needed and reports whether it did.
func ensureDir(dir string) (bool, error) {
	if _, err := os.Stat(dir); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return true, nil
}

func removeIfCreated(dir string, created bool) {
	if !created {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		logging.WithError(err).Warnf("Failed to remove %s", dir)
	}
}

func countImages(root string) (int, error) {
	dirs, err := enroll.PersonDirs(root)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, d := range dirs {
		images, err := enroll.ListImages(d)
		if err != nil {
			return 0, err
		}
		total += len(images)
	}
	return total, nil
}
