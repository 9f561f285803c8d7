package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrCodeEU/facescan/pkg/acceleration"
	"github.com/MrCodeEU/facescan/pkg/analysis"
	"github.com/MrCodeEU/facescan/pkg/config"
	"github.com/MrCodeEU/facescan/pkg/matcher"
	"github.com/MrCodeEU/facescan/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveName(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		flag     string
		fallback string
		input    string
		want     string
		wantErr  bool
	}{
		{name: "argument wins", args: []string{" Alice "}, flag: "Bob", want: "Alice"},
		{name: "flag", flag: "Bob", want: "Bob"},
		{name: "prompt", input: "Carol\n", want: "Carol"},
		{name: "prompt without newline", input: "Dave", want: "Dave"},
		{name: "prompt default", fallback: "Erin", input: "\n", want: "Erin"},
		{name: "nothing given", input: "\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			got, err := resolveName(tt.args, tt.flag, tt.fallback, strings.NewReader(tt.input), &out)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveName_PromptShowsDefault(t *testing.T) {
	var out bytes.Buffer
	_, err := resolveName(nil, "", "erin", strings.NewReader("\n"), &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "[erin]")
}

func TestEnsureDirAndCleanup(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "alice")

	created, err := ensureDir(dir)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = ensureDir(dir)
	require.NoError(t, err)
	assert.False(t, created, "existing folder must be reported as reused")

	removeIfCreated(dir, false)
	assert.DirExists(t, dir)

	removeIfCreated(dir, true)
	assert.NoDirExists(t, dir)
}

func TestCountImages(t *testing.T) {
	root := t.TempDir()
	for _, f := range []string{"alice/1.jpg", "alice/2.PNG", "alice/notes.txt", "bob/1.jpeg"} {
		path := filepath.Join(root, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	}

	n, err := countImages(root)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = countImages(filepath.Join(root, "missing"))
	assert.Error(t, err)
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "00:00:00", formatTimestamp(0))
	assert.Equal(t, "00:00:05", formatTimestamp(5*time.Second))
	assert.Equal(t, "00:01:15", formatTimestamp(75*time.Second+200*time.Millisecond))
	assert.Equal(t, "02:00:01", formatTimestamp(2*time.Hour+time.Second))
}

func TestRenderMatch(t *testing.T) {
	matched := renderMatch(matcher.Result{Identifier: "alice", Score: 0.91}, 0.5)
	assert.Contains(t, matched, "alice")
	assert.Contains(t, matched, "0.910")

	unknown := renderMatch(matcher.Result{Identifier: matcher.Unknown, Score: 0.2}, 0.5)
	assert.Contains(t, unknown, matcher.Unknown)
	assert.Contains(t, unknown, "0.200")

	empty := renderMatch(matcher.Result{Identifier: matcher.Unknown, Score: matcher.NoScore}, 0.5)
	assert.Contains(t, empty, "No enrolled person")
}

func TestRenderReport(t *testing.T) {
	report := &analysis.Report{
		VideoPath:     "/videos/party.mp4",
		FramesSampled: 5,
		FacesDetected: 4,
		FacesEmbedded: 3,
		Sightings: []analysis.Sighting{
			{Identifier: "alice", Timestamp: 5 * time.Second, Count: 2},
			{Identifier: "bob", Timestamp: 20 * time.Second, Count: 1},
		},
	}

	out := renderReport(report)
	assert.Contains(t, out, "party.mp4")
	assert.Regexp(t, `Faces embedded\s+3`, out)
	assert.Contains(t, out, "alice")
	assert.Contains(t, out, "00:00:20")
	assert.Less(t, strings.Index(out, "alice"), strings.Index(out, "bob"))

	none := renderReport(&analysis.Report{})
	assert.Contains(t, none, "No known faces recognised")
}

func TestPrintRecords(t *testing.T) {
	var out bytes.Buffer
	printRecords(&out, nil)
	assert.Contains(t, out.String(), "No one is enrolled")

	out.Reset()
	printRecords(&out, []storage.PersonRecord{
		{Identifier: "alice", Vector: make([]float32, 512), Samples: 3, Provider: "arcface"},
	})
	assert.Contains(t, out.String(), "alice")
	assert.Contains(t, out.String(), "3 photos, 512-d arcface")
}

func TestPrintBackends(t *testing.T) {
	var out bytes.Buffer
	printBackends(&out, []acceleration.BackendInfo{
		{Backend: acceleration.BackendCPU, Name: "CPU (OpenCV)", DeviceName: "Test CPU"},
		{Backend: acceleration.BackendCUDA, Name: "NVIDIA CUDA", DeviceName: "RTX"},
	}, acceleration.BackendCUDA)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "Test CPU")
	assert.NotContains(t, lines[1], "*")
	assert.Contains(t, lines[2], "*")
	assert.Contains(t, lines[2], "RTX")
}

func TestRequiredModels(t *testing.T) {
	c := config.DefaultConfig()
	c.Recognition.ArcFaceModel = "custom-arcface.onnx"

	models := requiredModels(c)
	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
		if m.Name == acceleration.ModelArcFace {
			assert.Equal(t, "custom-arcface.onnx", m.File)
		}
	}
	assert.ElementsMatch(t, []string{acceleration.ModelArcFace, acceleration.ModelYuNet}, names)
}

func TestNewEngine_MissingModels(t *testing.T) {
	c := config.DefaultConfig()
	c.Recognition.ModelPath = t.TempDir()

	_, err := newEngine(c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download-models")
}

func TestRunAnalyze_ChecksInputBeforeLoadingModels(t *testing.T) {
	saved := cfg
	t.Cleanup(func() { cfg = saved })

	cfg = config.DefaultConfig()
	cfg.Paths.DatabaseDir = filepath.Join(t.TempDir(), "known_db")
	cfg.Recognition.ModelPath = t.TempDir()

	videoPath := filepath.Join(t.TempDir(), "party.mp4")
	err := runAnalyze(analyzeCmd, []string{videoPath})
	assert.ErrorIs(t, err, analysis.ErrVideoNotFound)
	assert.NotContains(t, err.Error(), "download-models")

	require.NoError(t, os.WriteFile(videoPath, []byte("video"), 0644))
	err = runAnalyze(analyzeCmd, []string{videoPath})
	assert.ErrorIs(t, err, analysis.ErrEmptyDatabase)
	assert.NotContains(t, err.Error(), "download-models")

	store, err := openStore()
	require.NoError(t, err)
	require.NoError(t, store.SavePerson(storage.PersonRecord{Identifier: "alice", Vector: make([]float32, 512)}))
	err = runAnalyze(analyzeCmd, []string{videoPath})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download-models")
}

func TestDownloadModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("model-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	target := filepath.Join(dir, "facefinder")

	require.NoError(t, downloadModel(srv.URL+"/facefinder", target, acceleration.CompressionNone))
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "model-bytes", string(data))

	failed := filepath.Join(dir, "other")
	assert.Error(t, downloadModel(srv.URL+"/missing", failed, acceleration.CompressionNone))
	assert.NoFileExists(t, failed)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must be removed")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, out.String(), "facescan "+Version)
}
