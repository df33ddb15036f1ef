// Package config loads pea settings from pea.toml or pea.yaml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"pea/internal/escape"
)

// ErrInvalid marks settings that cannot be used.
var ErrInvalid = errors.New("invalid config")

// FileNames are the config files looked up by Find, in order of preference.
var FileNames = []string{"pea.toml", "pea.yaml", "pea.yml"}

// Settings is the full configuration of a pea run.
type Settings struct {
	Escape   EscapeSettings   `toml:"escape" yaml:"escape"`
	Pipeline PipelineSettings `toml:"pipeline" yaml:"pipeline"`

	// Path is the file the settings were read from, empty for defaults.
	Path string `toml:"-" yaml:"-"`
}

// EscapeSettings mirrors escape.Options.
type EscapeSettings struct {
	MaxIterations     int  `toml:"max_iterations" yaml:"max_iterations"`
	MaxLoopIterations int  `toml:"max_loop_iterations" yaml:"max_loop_iterations"`
	VirtualizeArrays  bool `toml:"virtualize_arrays" yaml:"virtualize_arrays"`
	MaxArrayLength    int  `toml:"max_array_length" yaml:"max_array_length"`
	Canonicalize      bool `toml:"canonicalize" yaml:"canonicalize"`
	StableArrays      bool `toml:"stable_arrays" yaml:"stable_arrays"`
	Verify            bool `toml:"verify" yaml:"verify"`
}

// PipelineSettings controls how functions are scheduled and cached.
type PipelineSettings struct {
	// Jobs bounds concurrent functions; 0 uses GOMAXPROCS.
	Jobs int `toml:"jobs" yaml:"jobs"`
	// Cache is the result cache directory. "auto" selects the user cache directory and an
	// empty string disables caching.
	Cache string `toml:"cache" yaml:"cache"`
}

// Default returns the settings used without a config file.
func Default() Settings {
	opts := escape.DefaultOptions()
	return Settings{
		Escape: EscapeSettings{
			MaxIterations:     opts.MaxIterations,
			MaxLoopIterations: opts.MaxLoopIterations,
			VirtualizeArrays:  opts.VirtualizeArrays,
			MaxArrayLength:    opts.MaxArrayLength,
			Canonicalize:      true,
			StableArrays:      true,
			Verify:            true,
		},
	}
}

// EscapeOptions converts the settings into options for escape.Run.
func (s Settings) EscapeOptions() escape.Options {
	opts := escape.DefaultOptions()
	opts.MaxIterations = s.Escape.MaxIterations
	opts.MaxLoopIterations = s.Escape.MaxLoopIterations
	opts.VirtualizeArrays = s.Escape.VirtualizeArrays
	opts.MaxArrayLength = s.Escape.MaxArrayLength
	if !s.Escape.Canonicalize {
		opts.Canonicalize = nil
	}
	if !s.Escape.StableArrays {
		opts.StableArrays = nil
	}
	if !s.Escape.Verify {
		opts.Verify = nil
	}
	return opts
}

// Find looks for a config file in startDir and its parents.
func Find(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		for _, name := range FileNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, true, nil
			} else if !errors.Is(err, os.ErrNotExist) {
				return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false, nil
		}
		dir = parent
	}
}

// definedFunc reports whether a dotted key is present in the file.
type definedFunc func(key ...string) bool

// Load reads settings from path. Keys missing from the file keep their defaults.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read config: %w", err)
	}
	s := Default()
	var defined definedFunc
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		defined, err = decodeTOML(data, &s)
	case ".yaml", ".yml":
		defined, err = decodeYAML(data, &s)
	default:
		return Settings{}, fmt.Errorf("%w: %s: unknown config format", ErrInvalid, path)
	}
	if err != nil {
		return Settings{}, fmt.Errorf("%s: %w", path, err)
	}
	s.Path = path
	if err := s.validate(defined); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func decodeTOML(data []byte, s *Settings) (definedFunc, error) {
	meta, err := toml.Decode(string(data), s)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse TOML: %w", ErrInvalid, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("%w: unknown keys %s", ErrInvalid, strings.Join(keys, ", "))
	}
	return meta.IsDefined, nil
}

func decodeYAML(data []byte, s *Settings) (definedFunc, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: failed to parse YAML: %w", ErrInvalid, err)
	}
	var raw map[string]map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %w", ErrInvalid, err)
	}
	return func(key ...string) bool {
		section, ok := raw[key[0]]
		if !ok || len(key) == 1 {
			return ok
		}
		_, ok = section[key[1]]
		return ok
	}, nil
}

// Validate checks settings assembled outside Load, such as after flag overrides.
func (s Settings) Validate() error {
	return s.validate(func(...string) bool { return false })
}

func (s Settings) validate(defined definedFunc) error {
	var errs []error
	bad := func(key string, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s: %s %s", ErrInvalid, s.Path, key, fmt.Sprintf(format, args...)))
	}
	if s.Escape.MaxIterations < 1 {
		bad("escape.max_iterations", "must be positive, got %d", s.Escape.MaxIterations)
	}
	if s.Escape.MaxLoopIterations < 1 {
		bad("escape.max_loop_iterations", "must be positive, got %d", s.Escape.MaxLoopIterations)
	}
	if s.Escape.MaxArrayLength < 0 {
		bad("escape.max_array_length", "must not be negative, got %d", s.Escape.MaxArrayLength)
	}
	if s.Pipeline.Jobs < 0 || (defined("pipeline", "jobs") && s.Pipeline.Jobs == 0) {
		bad("pipeline.jobs", "must be positive when set, got %d", s.Pipeline.Jobs)
	}
	if defined("pipeline", "cache") && strings.TrimSpace(s.Pipeline.Cache) == "" {
		bad("pipeline.cache", "must name a directory or \"auto\"")
	}
	return errors.Join(errs...)
}
