package security

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// FingerprintVersion is mixed into every hash input so the scheme can evolve
	FingerprintVersion = "v1"

	// MethodPrimary identifies MAC + CPU based fingerprints
	MethodPrimary = "primary"
	// MethodFallback identifies hostname + CPU based fingerprints produced
	// when no usable network adapter exists. Uniqueness is degraded.
	MethodFallback = "fallback"

	defaultCacheDuration = time.Hour
)

// virtualAdapterPrefixes lists interface names whose hardware addresses are
// generated per boot or per container and must not anchor a fingerprint
var virtualAdapterPrefixes = []string{
	"docker", "veth", "br-", "virbr", "vmnet", "vboxnet", "tun", "tap", "utun", "lo",
}

// DeviceFingerprint represents device identification information. Only
// Fingerprint and Method are meant to leave the process.
type DeviceFingerprint struct {
	Fingerprint   string    `json:"fingerprint"`
	Method        string    `json:"method"`
	Degraded      bool      `json:"degraded"`
	InterfaceName string    `json:"-"`
	MACAddress    string    `json:"-"`
	Hostname      string    `json:"-"`
	CPUID         string    `json:"cpu_id"`
	OS            string    `json:"os"`
	Platform      string    `json:"platform"`
	GeneratedAt   time.Time `json:"generated_at"`
}

// Fingerprinter is satisfied by anything that can identify the current machine
type Fingerprinter interface {
	Generate() (*DeviceFingerprint, error)
}

// HardwareFingerprinter derives a stable per-machine identifier and caches it
type HardwareFingerprinter struct {
	interfaces func() ([]net.Interface, error)
	hostname   func() (string, error)
	readFile   func(string) ([]byte, error)
	getenv     func(string) string
	goos       string
	goarch     string
	now        func() time.Time
	logger     *slog.Logger

	cacheMutex    sync.RWMutex
	cache         *DeviceFingerprint
	cacheExpiry   time.Time
	cacheDuration time.Duration
}

// FingerprintOption configures a HardwareFingerprinter
type FingerprintOption func(*HardwareFingerprinter)

// WithInterfaces replaces the network interface lister
func WithInterfaces(fn func() ([]net.Interface, error)) FingerprintOption {
	return func(h *HardwareFingerprinter) { h.interfaces = fn }
}

// WithHostname replaces the hostname source
func WithHostname(fn func() (string, error)) FingerprintOption {
	return func(h *HardwareFingerprinter) { h.hostname = fn }
}

// WithFileReader replaces the reader used for /proc/cpuinfo
func WithFileReader(fn func(string) ([]byte, error)) FingerprintOption {
	return func(h *HardwareFingerprinter) { h.readFile = fn }
}

// WithEnv replaces the environment lookup
func WithEnv(fn func(string) string) FingerprintOption {
	return func(h *HardwareFingerprinter) { h.getenv = fn }
}

// WithPlatform overrides GOOS and GOARCH
func WithPlatform(goos, goarch string) FingerprintOption {
	return func(h *HardwareFingerprinter) {
		h.goos = goos
		h.goarch = goarch
	}
}

// WithCacheDuration sets how long a generated fingerprint is reused.
// Zero disables caching.
func WithCacheDuration(d time.Duration) FingerprintOption {
	return func(h *HardwareFingerprinter) { h.cacheDuration = d }
}

// WithFingerprintClock sets the clock used for cache expiry
func WithFingerprintClock(now func() time.Time) FingerprintOption {
	return func(h *HardwareFingerprinter) { h.now = now }
}

// WithFingerprintLogger sets the logger
func WithFingerprintLogger(logger *slog.Logger) FingerprintOption {
	return func(h *HardwareFingerprinter) { h.logger = logger }
}

// NewHardwareFingerprinter creates a fingerprinter reading the real host
func NewHardwareFingerprinter(opts ...FingerprintOption) *HardwareFingerprinter {
	h := &HardwareFingerprinter{
		interfaces:    net.Interfaces,
		hostname:      os.Hostname,
		readFile:      os.ReadFile,
		getenv:        os.Getenv,
		goos:          runtime.GOOS,
		goarch:        runtime.GOARCH,
		now:           time.Now,
		logger:        slog.Default(),
		cacheDuration: defaultCacheDuration,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Fingerprint returns the hex digest for this machine
func (h *HardwareFingerprinter) Fingerprint() (string, error) {
	fp, err := h.Generate()
	if err != nil {
		return "", err
	}
	return fp.Fingerprint, nil
}

// Generate computes the device fingerprint, serving it from cache when fresh
func (h *HardwareFingerprinter) Generate() (*DeviceFingerprint, error) {
	h.cacheMutex.RLock()
	if h.cache != nil && h.now().Before(h.cacheExpiry) {
		cached := *h.cache
		h.cacheMutex.RUnlock()
		return &cached, nil
	}
	h.cacheMutex.RUnlock()

	start := time.Now()
	cpuID := h.cpuID()

	fp := &DeviceFingerprint{
		CPUID:       cpuID,
		OS:          h.goos,
		Platform:    h.goarch,
		GeneratedAt: h.now(),
	}

	ifaceName, mac, macErr := h.primaryMAC()
	if macErr == nil {
		fp.Method = MethodPrimary
		fp.InterfaceName = ifaceName
		fp.MACAddress = mac
		fp.Fingerprint = digest(FingerprintVersion, MethodPrimary, mac, cpuID, h.goos, h.goarch)
	} else {
		hostname, err := h.hostname()
		hostname = strings.ToLower(strings.TrimSpace(hostname))
		if err != nil || hostname == "" {
			return nil, fmt.Errorf("no usable network adapter (%v) and hostname unavailable: %w", macErr, errOrEmpty(err))
		}
		fp.Method = MethodFallback
		fp.Degraded = true
		fp.Hostname = hostname
		fp.Fingerprint = digest(FingerprintVersion, MethodFallback, hostname, cpuID, h.goos, h.goarch)

		h.logger.Warn("Using degraded fallback fingerprint",
			slog.String("reason", macErr.Error()),
			slog.String("method", MethodFallback),
		)
	}

	if h.cacheDuration > 0 {
		h.cacheMutex.Lock()
		cached := *fp
		h.cache = &cached
		h.cacheExpiry = h.now().Add(h.cacheDuration)
		h.cacheMutex.Unlock()
	}

	h.logger.Debug("Device fingerprint generated",
		slog.String("fingerprint", ShortFingerprint(fp.Fingerprint)),
		slog.String("method", fp.Method),
		slog.Duration("generation_time", time.Since(start)),
	)

	return fp, nil
}

// ClearCache clears the cached fingerprint
func (h *HardwareFingerprinter) ClearCache() {
	h.cacheMutex.Lock()
	defer h.cacheMutex.Unlock()

	h.cache = nil
	h.cacheExpiry = time.Time{}
}

// primaryMAC picks the first physical adapter by name. Interfaces are sorted
// so enumeration order from the OS does not change the result.
func (h *HardwareFingerprinter) primaryMAC() (string, string, error) {
	interfaces, err := h.interfaces()
	if err != nil {
		return "", "", fmt.Errorf("failed to list network interfaces: %w", err)
	}

	sort.Slice(interfaces, func(i, j int) bool {
		return interfaces[i].Name < interfaces[j].Name
	})

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || isVirtualAdapter(iface.Name) {
			continue
		}
		if len(iface.HardwareAddr) == 0 || isZeroMAC(iface.HardwareAddr) {
			continue
		}
		return iface.Name, strings.ToLower(iface.HardwareAddr.String()), nil
	}

	return "", "", fmt.Errorf("no physical network adapter with a hardware address")
}

// cpuID returns a short, hashed, OS-specific processor identifier
func (h *HardwareFingerprinter) cpuID() string {
	var raw string

	switch h.goos {
	case "linux":
		raw = h.linuxCPUInfo()
		if raw == "" {
			raw = "linux-" + h.goarch
		}
	case "windows":
		raw = h.getenv("PROCESSOR_IDENTIFIER")
		if raw == "" {
			raw = fmt.Sprintf("windows-%s-%s", h.goarch, h.getenv("PROCESSOR_ARCHITECTURE"))
		}
	case "darwin":
		raw = "darwin-" + h.goarch
		if hostType := h.getenv("HOSTTYPE"); hostType != "" {
			raw = raw + "-" + hostType
		}
	default:
		raw = h.goos + "-" + h.goarch
	}

	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:8])
}

// linuxCPUInfo extracts the first vendor, model name and hardware lines
func (h *HardwareFingerprinter) linuxCPUInfo() string {
	data, err := h.readFile("/proc/cpuinfo")
	if err != nil {
		return ""
	}

	wanted := []string{"vendor_id", "model name", "Hardware"}
	found := make(map[string]string, len(wanted))
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if _, seen := found[key]; seen {
			continue
		}
		for _, w := range wanted {
			if key == w {
				found[key] = strings.TrimSpace(value)
			}
		}
	}

	parts := make([]string, 0, len(wanted))
	for _, w := range wanted {
		if v := found[w]; v != "" {
			parts = append(parts, w+"="+v)
		}
	}
	return strings.Join(parts, ";")
}

func isVirtualAdapter(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range virtualAdapterPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func isZeroMAC(addr net.HardwareAddr) bool {
	return bytes.Equal(addr, make(net.HardwareAddr, len(addr)))
}

func digest(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func errOrEmpty(err error) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("empty hostname")
}

// ShortFingerprint shortens a fingerprint for log output
func ShortFingerprint(fp string) string {
	if len(fp) <= 12 {
		return fp
	}
	return fp[:12] + "..."
}
