package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MrCodeEU/facescan/pkg/acceleration"
	"github.com/MrCodeEU/facescan/pkg/analysis"
	"github.com/MrCodeEU/facescan/pkg/enroll"
	"github.com/MrCodeEU/facescan/pkg/matcher"
	"github.com/MrCodeEU/facescan/pkg/storage"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(18)
	nameStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("76"))
	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))
	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))
	boxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

func field(label string, value any) string {
	return labelStyle.Render(label) + fmt.Sprint(value)
}

// formatTimestamp renders a video position as HH:MM:SS.
func formatTimestamp(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	return fmt.Sprintf("%02d:%02d:%02d", h, m, d/time.Second)
}

func renderSighting(s analysis.Sighting) string {
	return fmt.Sprintf("%s %s %s",
		mutedStyle.Render("["+formatTimestamp(s.Timestamp)+"]"),
		nameStyle.Render(s.Identifier),
		mutedStyle.Render(fmt.Sprintf("(similarity %.3f)", s.Score)),
	)
}

func renderReport(r *analysis.Report) string {
	lines := []string{
		titleStyle.Render("Analysis complete"),
		"",
		field("Video", r.VideoPath),
		field("Run", r.RunID),
		field("Frames read", r.FramesRead),
		field("Frames sampled", r.FramesSampled),
		field("Faces detected", r.FacesDetected),
		field("Faces embedded", r.FacesEmbedded),
		field("Faces unknown", r.FacesUnknown),
	}
	if r.EmbedFailures > 0 {
		lines = append(lines, field("Embed failures", warnStyle.Render(fmt.Sprint(r.EmbedFailures))))
	}
	lines = append(lines, field("Duration", r.Duration.Round(time.Millisecond)), "")

	if len(r.Sightings) == 0 {
		lines = append(lines, mutedStyle.Render("No known faces recognised."))
	} else {
		lines = append(lines, titleStyle.Render("Recognised"))
		for _, s := range r.Sightings {
			lines = append(lines, fmt.Sprintf("  %s %s",
				nameStyle.Render(s.Identifier),
				mutedStyle.Render(fmt.Sprintf("first at %s, %d matches", formatTimestamp(s.Timestamp), s.Count)),
			))
		}
	}

	return boxStyle.Render(strings.Join(lines, "\n"))
}

func renderMatch(r matcher.Result, threshold float64) string {
	if !r.Matched() {
		if r.Score == matcher.NoScore {
			return mutedStyle.Render("No enrolled person to compare against.")
		}
		return fmt.Sprintf("%s %s",
			warnStyle.Render(matcher.Unknown),
			mutedStyle.Render(fmt.Sprintf("(best similarity %.3f < %.2f)", r.Score, threshold)),
		)
	}
	return fmt.Sprintf("%s %s",
		nameStyle.Render(r.Identifier),
		mutedStyle.Render(fmt.Sprintf("(similarity %.3f)", r.Score)),
	)
}

func printSummary(w io.Writer, s *enroll.Summary) {
	fmt.Fprintln(w, titleStyle.Render("Face database rebuilt"))
	for _, p := range s.Persons {
		status := nameStyle.Render("enrolled")
		if !p.Written {
			status = warnStyle.Render("skipped")
		}
		fmt.Fprintf(w, "  %-20s %s %s\n", p.Identifier, status,
			mutedStyle.Render(fmt.Sprintf("%d/%d photos", p.Embedded, p.Images)))
	}
	fmt.Fprintln(w, field("Written", s.Written))
	fmt.Fprintln(w, field("Skipped", s.Skipped))
}

func printRecords(w io.Writer, records []storage.PersonRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No one is enrolled yet."))
		return
	}
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Enrolled people (%d)", len(records))))
	for _, r := range records {
		enrolled := "unknown"
		if !r.EnrolledAt.IsZero() {
			enrolled = r.EnrolledAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "  %-20s %s\n", r.Identifier,
			mutedStyle.Render(fmt.Sprintf("%d photos, %d-d %s, %s", r.Samples, r.Dim(), r.Provider, enrolled)))
	}
}

func printModels(w io.Writer, infos []acceleration.ModelInfo, required []string) {
	needed := make(map[string]bool, len(required))
	for _, name := range required {
		needed[name] = true
	}

	fmt.Fprintln(w, titleStyle.Render("Models"))
	for _, info := range infos {
		state := mutedStyle.Render("missing")
		if info.Present {
			state = nameStyle.Render(fmt.Sprintf("%.1f MB", float64(info.Size)/(1<<20)))
		} else if needed[info.Name] {
			state = warnStyle.Render("missing (required)")
		}
		fmt.Fprintf(w, "  %-16s %-45s %s\n", info.Name, info.File, state)
	}
}

func printBackends(w io.Writer, backends []acceleration.BackendInfo, active acceleration.Backend) {
	fmt.Fprintln(w, titleStyle.Render("Inference backends"))
	for _, b := range backends {
		marker := "  "
		name := fmt.Sprintf("%-10s", b.Backend)
		if b.Backend == active {
			marker = nameStyle.Render("* ")
			name = nameStyle.Render(name)
		}
		fmt.Fprintf(w, "%s%s %s\n", marker, name, mutedStyle.Render(b.String()))
	}
}
