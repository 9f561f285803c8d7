package acceleration

import (
	"errors"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.PreferredBackend != BackendAuto {
		t.Errorf("expected PreferredBackend auto, got %s", cfg.PreferredBackend)
	}
	if !cfg.FallbackToCPU {
		t.Error("expected FallbackToCPU to be true")
	}
}

func TestParseBackend(t *testing.T) {
	tests := []struct {
		input    string
		expected Backend
		wantErr  bool
	}{
		{"cpu", BackendCPU, false},
		{"CUDA", BackendCUDA, false},
		{" openvino ", BackendOpenVINO, false},
		{"opencl", BackendOpenCL, false},
		{"auto", BackendAuto, false},
		{"", BackendAuto, false},
		{"rocm", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			backend, err := ParseBackend(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseBackend(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if backend != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, backend)
			}
		})
	}
}

// fakeManager returns a Manager whose probes report exactly the given backends.
func fakeManager(present ...Backend) *Manager {
	m := NewManager()
	m.probes = make(map[Backend]probe)
	for _, b := range present {
		b := b
		m.probes[b] = func() *BackendInfo {
			return &BackendInfo{Backend: b, Name: string(b), Available: true}
		}
	}
	return m
}

func TestManager_Initialize_CPUOnly(t *testing.T) {
	m := fakeManager()

	if err := m.Initialize(DefaultConfig()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	cpu := m.GetBackendInfo(BackendCPU)
	if cpu == nil || !cpu.Available {
		t.Fatalf("CPU must always be available, got %+v", cpu)
	}
	if m.GetActiveBackend() != BackendCPU {
		t.Errorf("expected cpu, got %s", m.GetActiveBackend())
	}
	if m.IsAccelerated() {
		t.Error("cpu is not accelerated")
	}
}

func TestManager_Initialize_NoFallback(t *testing.T) {
	m := fakeManager()

	err := m.Initialize(Config{PreferredBackend: BackendCUDA, FallbackToCPU: false})
	if !errors.Is(err, ErrBackendNotAvailable) {
		t.Errorf("expected ErrBackendNotAvailable, got %v", err)
	}
	if m.GetActiveBackend() != "" {
		t.Errorf("no backend should be active, got %s", m.GetActiveBackend())
	}
	if _, err := m.Backends(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

func TestManager_Initialize_Detected(t *testing.T) {
	m := fakeManager(BackendOpenCL)

	if err := m.Initialize(DefaultConfig()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if m.GetActiveBackend() != BackendOpenCL {
		t.Errorf("expected opencl, got %s", m.GetActiveBackend())
	}
	if !m.IsAccelerated() {
		t.Error("opencl should count as accelerated")
	}
}

func TestManager_Backends(t *testing.T) {
	m := fakeManager(BackendOpenCL, BackendCUDA)
	if err := m.Initialize(DefaultConfig()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	backends, err := m.Backends()
	if err != nil {
		t.Fatalf("Backends failed: %v", err)
	}
	var names []string
	for _, b := range backends {
		names = append(names, string(b.Backend))
	}
	if got := strings.Join(names, ","); got != "cpu,cuda,opencl" {
		t.Errorf("expected sorted cpu,cuda,opencl, got %s", got)
	}
}

func TestManager_choose(t *testing.T) {
	tests := []struct {
		name      string
		preferred Backend
		found     map[Backend]*BackendInfo
		fallback  bool
		expected  Backend
		wantErr   bool
	}{
		{
			name:      "auto with only CPU",
			preferred: BackendAuto,
			found: map[Backend]*BackendInfo{
				BackendCPU: {Backend: BackendCPU, Available: true},
			},
			fallback: true,
			expected: BackendCPU,
		},
		{
			name:      "auto prefers CUDA over OpenCL",
			preferred: BackendAuto,
			found: map[Backend]*BackendInfo{
				BackendCPU:    {Backend: BackendCPU, Available: true},
				BackendOpenCL: {Backend: BackendOpenCL, Available: true},
				BackendCUDA:   {Backend: BackendCUDA, Available: true},
			},
			fallback: true,
			expected: BackendCUDA,
		},
		{
			name:      "auto skips unavailable",
			preferred: BackendAuto,
			found: map[Backend]*BackendInfo{
				BackendCPU:      {Backend: BackendCPU, Available: true},
				BackendOpenVINO: {Backend: BackendOpenVINO, Available: false},
			},
			fallback: true,
			expected: BackendCPU,
		},
		{
			name:      "requested backend present",
			preferred: BackendOpenVINO,
			found: map[Backend]*BackendInfo{
				BackendCPU:      {Backend: BackendCPU, Available: true},
				BackendOpenVINO: {Backend: BackendOpenVINO, Available: true},
			},
			fallback: true,
			expected: BackendOpenVINO,
		},
		{
			name:      "requested backend missing with fallback",
			preferred: BackendCUDA,
			found: map[Backend]*BackendInfo{
				BackendCPU: {Backend: BackendCPU, Available: true},
			},
			fallback: true,
			expected: BackendCPU,
		},
		{
			name:      "requested backend missing without fallback",
			preferred: BackendCUDA,
			found: map[Backend]*BackendInfo{
				BackendCPU: {Backend: BackendCPU, Available: true},
			},
			fallback: false,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Manager{found: tt.found, cfg: Config{FallbackToCPU: tt.fallback}}
			got, err := m.choose(tt.preferred)
			if (err != nil) != tt.wantErr {
				t.Fatalf("choose error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestParseNvidiaSMI(t *testing.T) {
	info := parseNvidiaSMI("NVIDIA GeForce RTX 3080, 535.104.05\nNVIDIA GeForce RTX 3080, 535.104.05\n")
	if info == nil {
		t.Fatal("expected info")
	}
	if info.DeviceName != "NVIDIA GeForce RTX 3080" {
		t.Errorf("unexpected device name %q", info.DeviceName)
	}
	if info.Version != "535.104.05" {
		t.Errorf("unexpected version %q", info.Version)
	}
	if info.DeviceCount != 2 || !info.Available {
		t.Errorf("unexpected info %+v", info)
	}

	if parseNvidiaSMI("  \n") != nil {
		t.Error("empty output should yield nil")
	}
}

func TestBackendInfo_String(t *testing.T) {
	info := BackendInfo{Name: "NVIDIA CUDA", DeviceName: "RTX 3080", DeviceCount: 2, Version: "535"}
	if got := info.String(); got != "NVIDIA CUDA on RTX 3080 (x2), version 535" {
		t.Errorf("unexpected description %q", got)
	}

	cpu := BackendInfo{Name: "CPU (OpenCV)", Version: "unknown"}
	if got := cpu.String(); got != "CPU (OpenCV)" {
		t.Errorf("unexpected description %q", got)
	}
}

func TestCPUModel(t *testing.T) {
	if cpuModel() == "" {
		t.Error("cpuModel returned empty string")
	}
}

func TestDetectors_DoNotPanic(t *testing.T) {
	// results depend on the hardware
	_ = detectCUDA()
	_ = detectOpenVINO()
	_ = detectOpenCL()
}

func BenchmarkManager_GetActiveBackend(b *testing.B) {
	m := &Manager{active: BackendCPU}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.GetActiveBackend()
	}
}
