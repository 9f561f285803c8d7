// Package acceleration detects the hardware available for DNN inference and
// selects the backend the OpenCV models run on.
package acceleration

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/MrCodeEU/facescan/pkg/logging"
)

// Backend names a DNN inference backend.
type Backend string

const (
	BackendCPU      Backend = "cpu"      // OpenCV default, always present
	BackendCUDA     Backend = "cuda"     // NVIDIA, needs OpenCV built with CUDA
	BackendOpenVINO Backend = "openvino" // Intel inference engine
	BackendOpenCL   Backend = "opencl"   // any OpenCL device
	BackendAuto     Backend = "auto"
)

// autoOrder is the preference order for BackendAuto. CPU is the fallback.
var autoOrder = []Backend{BackendCUDA, BackendOpenVINO, BackendOpenCL}

// ErrBackendNotAvailable is returned when a requested backend is missing and
// CPU fallback is disabled.
var ErrBackendNotAvailable = errors.New("acceleration backend not available")

// ErrNotInitialized is returned when the manager is used before Initialize.
var ErrNotInitialized = errors.New("acceleration manager not initialized")

// ParseBackend converts a config value into a Backend. Empty means auto.
func ParseBackend(s string) (Backend, error) {
	b := Backend(strings.ToLower(strings.TrimSpace(s)))
	if b == "" {
		return BackendAuto, nil
	}
	switch b {
	case BackendCPU, BackendCUDA, BackendOpenVINO, BackendOpenCL, BackendAuto:
		return b, nil
	}
	return "", fmt.Errorf("unknown backend %q", s)
}

// BackendInfo describes a detected backend.
type BackendInfo struct {
	Backend     Backend
	Name        string
	Available   bool
	Version     string
	DeviceName  string
	DeviceCount int
}

func (i BackendInfo) String() string {
	s := i.Name
	if i.DeviceName != "" {
		s += " on " + i.DeviceName
	}
	if i.DeviceCount > 1 {
		s += fmt.Sprintf(" (x%d)", i.DeviceCount)
	}
	if i.Version != "" && i.Version != "unknown" {
		s += ", version " + i.Version
	}
	return s
}

// Config holds acceleration configuration.
type Config struct {
	PreferredBackend Backend
	FallbackToCPU    bool
}

// DefaultConfig picks the best backend and falls back to CPU.
func DefaultConfig() Config {
	return Config{PreferredBackend: BackendAuto, FallbackToCPU: true}
}

// probe reports one backend, or nil when the system lacks it.
type probe func() *BackendInfo

// Manager detects backends once and remembers the selected one.
type Manager struct {
	mu     sync.RWMutex
	cfg    Config
	probes map[Backend]probe
	found  map[Backend]*BackendInfo
	active Backend
	ready  bool
}

// NewManager creates a Manager that probes the local system.
func NewManager() *Manager {
	return &Manager{
		cfg: DefaultConfig(),
		probes: map[Backend]probe{
			BackendCUDA:     detectCUDA,
			BackendOpenVINO: detectOpenVINO,
			BackendOpenCL:   detectOpenCL,
		},
		found: make(map[Backend]*BackendInfo),
	}
}

// Initialize probes the system and selects a backend according to cfg.
func (m *Manager) Initialize(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg = cfg
	m.found = m.probeAll()

	active, err := m.choose(cfg.PreferredBackend)
	if err != nil {
		return err
	}
	m.active = active
	m.ready = true

	logging.Component("acceleration").WithFields(logging.Fields{
		"backend": active,
		"device":  m.found[active].DeviceName,
	}).Debugf("Inference backend selected: %s", m.found[active].Name)
	return nil
}

func (m *Manager) probeAll() map[Backend]*BackendInfo {
	found := map[Backend]*BackendInfo{
		BackendCPU: {
			Backend:     BackendCPU,
			Name:        "CPU (OpenCV)",
			Available:   true,
			DeviceName:  cpuModel(),
			DeviceCount: runtime.NumCPU(),
		},
	}
	for b, p := range m.probes {
		if info := p(); info != nil {
			found[b] = info
		}
	}
	return found
}

func (m *Manager) available(b Backend) bool {
	info, ok := m.found[b]
	return ok && info.Available
}

// choose resolves the preferred backend against the detected ones.
func (m *Manager) choose(preferred Backend) (Backend, error) {
	if preferred == BackendAuto || preferred == "" {
		for _, b := range autoOrder {
			if m.available(b) {
				return b, nil
			}
		}
		return BackendCPU, nil
	}

	if m.available(preferred) {
		return preferred, nil
	}
	if !m.cfg.FallbackToCPU {
		return "", fmt.Errorf("%w: %s", ErrBackendNotAvailable, preferred)
	}
	logging.Warnf("Requested backend %s not available, falling back to CPU", preferred)
	return BackendCPU, nil
}

// GetActiveBackend returns the selected backend, empty before Initialize.
func (m *Manager) GetActiveBackend() Backend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// GetBackendInfo returns the detected info for b, or nil.
func (m *Manager) GetBackendInfo(b Backend) *BackendInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.found[b]
}

// Backends returns every detected backend sorted by name.
func (m *Manager) Backends() ([]BackendInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.ready {
		return nil, ErrNotInitialized
	}
	out := make([]BackendInfo, 0, len(m.found))
	for _, info := range m.found {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Backend < out[j].Backend })
	return out, nil
}

// IsAccelerated reports whether inference runs off the CPU.
func (m *Manager) IsAccelerated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active != "" && m.active != BackendCPU
}

func detectCUDA() *BackendInfo {
	smi, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return nil
	}
	out, err := exec.Command(smi, "--query-gpu=name,driver_version", "--format=csv,noheader").Output()
	if err != nil {
		return nil
	}
	return parseNvidiaSMI(string(out))
}

// parseNvidiaSMI reads "name, driver" CSV lines, one per GPU.
func parseNvidiaSMI(output string) *BackendInfo {
	var gpus []string
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			gpus = append(gpus, line)
		}
	}
	if len(gpus) == 0 {
		return nil
	}

	name, driver, _ := strings.Cut(gpus[0], ",")
	return &BackendInfo{
		Backend:     BackendCUDA,
		Name:        "NVIDIA CUDA",
		Available:   true,
		Version:     strings.TrimSpace(driver),
		DeviceName:  strings.TrimSpace(name),
		DeviceCount: len(gpus),
	}
}

func detectOpenVINO() *BackendInfo {
	root := os.Getenv("INTEL_OPENVINO_DIR")
	if root == "" {
		// newest install first
		dirs, _ := filepath.Glob("/opt/intel/openvino*")
		sort.Sort(sort.Reverse(sort.StringSlice(dirs)))
		if len(dirs) == 0 {
			return nil
		}
		root = dirs[0]
	}

	return &BackendInfo{
		Backend:     BackendOpenVINO,
		Name:        "Intel OpenVINO",
		Available:   true,
		Version:     readVersion(filepath.Join(root, "version.txt")),
		DeviceName:  intelDevice(),
		DeviceCount: 1,
	}
}

func detectOpenCL() *BackendInfo {
	icds, _ := filepath.Glob("/etc/OpenCL/vendors/*.icd")
	if len(icds) == 0 {
		return nil
	}

	vendors := make([]string, len(icds))
	for i, icd := range icds {
		vendors[i] = strings.TrimSuffix(filepath.Base(icd), ".icd")
	}
	return &BackendInfo{
		Backend:     BackendOpenCL,
		Name:        "OpenCL",
		Available:   true,
		Version:     "unknown",
		DeviceName:  strings.Join(vendors, ", "),
		DeviceCount: len(icds),
	}
}

func readVersion(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(data))
}

const intelVendorID = "0x8086"

// intelDevice names the Intel GPU or NPU OpenVINO would run on.
func intelDevice() string {
	vendors, _ := filepath.Glob("/sys/class/drm/card*/device/vendor")
	for _, path := range vendors {
		id, err := os.ReadFile(path)
		if err != nil || strings.TrimSpace(string(id)) != intelVendorID {
			continue
		}
		if dev, err := os.ReadFile(filepath.Join(filepath.Dir(path), "device")); err == nil {
			return fmt.Sprintf("Intel GPU (device: %s)", strings.TrimSpace(string(dev)))
		}
		return "Intel GPU"
	}

	if _, err := os.Stat("/dev/accel/accel0"); err == nil {
		return "Intel NPU"
	}
	return "Intel (CPU inference)"
}

// cpuModel reads the CPU model name from /proc/cpuinfo.
func cpuModel() string {
	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return "Unknown CPU"
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if ok && strings.TrimSpace(key) == "model name" {
			return strings.TrimSpace(value)
		}
	}
	return "Unknown CPU"
}
