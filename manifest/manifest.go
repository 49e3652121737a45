// Package manifest handles venom.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the project configuration file.
const FileName = "venom.toml"

// Manifest represents a venom.toml project configuration. Every section is
// optional; missing keys keep the values from Default.
type Manifest struct {
	Run    RunConfig    `toml:"run" json:"run"`
	VM     VMConfig     `toml:"vm" json:"vm"`
	Cache  CacheConfig  `toml:"cache" json:"cache"`
	Server ServerConfig `toml:"server" json:"server"`
	Log    LogConfig    `toml:"log" json:"log"`

	// Dir is the directory containing the venom.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// RunConfig controls what the CLI does around a run.
type RunConfig struct {
	Debug       bool `toml:"debug" json:"debug"`             // dump the stack after the run
	Trace       bool `toml:"trace" json:"trace"`             // log every instruction
	Disassemble bool `toml:"disassemble" json:"disassemble"` // print the bytecode before running
}

// VMConfig sets interpreter limits.
type VMConfig struct {
	MaxFrames int `toml:"max-frames" json:"max-frames"`
	MaxStack  int `toml:"max-stack" json:"max-stack"`
}

// CacheConfig configures the compiled image cache. An empty path disables it.
type CacheConfig struct {
	Path string `toml:"path" json:"path"`
}

// ServerConfig configures the evaluation server.
type ServerConfig struct {
	HTTPAddr string `toml:"http-addr" json:"http-addr"`
	GRPCAddr string `toml:"grpc-addr" json:"grpc-addr"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity" json:"verbosity"`
	File      string `toml:"file" json:"file"`
}

// Default returns the configuration used when no venom.toml exists.
func Default() *Manifest {
	return &Manifest{
		VM: VMConfig{
			MaxFrames: 256,
			MaxStack:  1 << 16,
		},
		Server: ServerConfig{
			HTTPAddr: "127.0.0.1:7380",
			GRPCAddr: "127.0.0.1:7381",
		},
	}
}

// Load parses a venom.toml file from the given directory on top of the
// defaults and validates the result.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	meta, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if err := Validate(m); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a venom.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// CachePath returns the cache database path resolved against the manifest
// directory, or "" when the cache is disabled.
func (m *Manifest) CachePath() string {
	return m.resolve(m.Cache.Path)
}

// LogFile returns the log file path resolved against the manifest
// directory, or "" for stderr.
func (m *Manifest) LogFile() string {
	return m.resolve(m.Log.File)
}

func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || m.Dir == "" {
		return p
	}
	return filepath.Join(m.Dir, p)
}
