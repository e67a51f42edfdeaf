// Package config resolves the chain parameters from built-in defaults, an
// optional YAML manifest and command-line flags, in that order of
// precedence.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

// DefaultDepth is the built-in chain length. It is declared as a string so
// release builds can override it with -ldflags "-X".
var DefaultDepth = "3"

// MaxDepth bounds recursive process creation.
const MaxDepth = 128

// DefaultSignalName is the interrupt relayed through the chain.
const DefaultSignalName = "SIGINT"

// Config is the fully resolved chain configuration for one invocation.
type Config struct {
	// Depth is the chain length: the number of processes including the
	// original one.
	Depth int
	// SignalName names the handled interrupt as it travels through flags,
	// manifests and the environment.
	SignalName string
	// Signal is SignalName resolved to its number. Populated by Resolve.
	Signal unix.Signal
	// MetricsListen is the optional metrics listen address for the root
	// process. Empty disables the endpoint.
	MetricsListen string
}

// Default returns the built-in configuration, honoring a DefaultDepth
// override injected at link time.
func Default() (Config, error) {
	depth, err := strconv.Atoi(strings.TrimSpace(DefaultDepth))
	if err != nil {
		return Config{}, fmt.Errorf("built-in depth %q: %w", DefaultDepth, err)
	}
	return Config{
		Depth:      depth,
		SignalName: DefaultSignalName,
	}, nil
}

// Manifest mirrors the optional prochain.yaml document.
type Manifest struct {
	Depth         int    `yaml:"depth"`
	Signal        string `yaml:"signal"`
	MetricsListen string `yaml:"metricsListen"`
}

// Load reads a manifest from the provided path. Unknown keys are rejected.
func Load(path string) (*Manifest, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	var doc Manifest
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", absPath, err)
	}
	return &doc, nil
}

// Apply overlays the manifest's explicitly provided fields onto cfg.
func (m *Manifest) Apply(cfg *Config) {
	if m == nil {
		return
	}
	if m.Depth != 0 {
		cfg.Depth = m.Depth
	}
	if m.Signal != "" {
		cfg.SignalName = m.Signal
	}
	if m.MetricsListen != "" {
		cfg.MetricsListen = m.MetricsListen
	}
}

// ParseSignal resolves a signal name such as "SIGINT", "int" or "SIGTERM".
// Signals that cannot be caught are rejected: the relay must be able to
// observe the delivery before re-raising it at exit.
func ParseSignal(name string) (unix.Signal, error) {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	if normalized == "" {
		return 0, fmt.Errorf("empty signal name")
	}
	if !strings.HasPrefix(normalized, "SIG") {
		normalized = "SIG" + normalized
	}
	sig := unix.SignalNum(normalized)
	if sig == 0 {
		return 0, fmt.Errorf("unknown signal %q", name)
	}
	if sig == unix.SIGKILL || sig == unix.SIGSTOP {
		return 0, fmt.Errorf("signal %s cannot be caught", normalized)
	}
	return sig, nil
}

// Resolve parses the signal name and validates the configuration. It must
// succeed before any chain activity begins.
func (c *Config) Resolve() error {
	if c.Depth < 1 {
		return fmt.Errorf("depth %d: must be at least 1", c.Depth)
	}
	if c.Depth > MaxDepth {
		return fmt.Errorf("depth %d: exceeds maximum of %d", c.Depth, MaxDepth)
	}

	sig, err := ParseSignal(c.SignalName)
	if err != nil {
		return err
	}
	c.Signal = sig

	if c.MetricsListen != "" {
		if _, _, err := net.SplitHostPort(c.MetricsListen); err != nil {
			return fmt.Errorf("metrics listen address %q: %w", c.MetricsListen, err)
		}
	}
	return nil
}
