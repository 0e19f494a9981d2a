package voices

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	modelSuffix   = ".onnx"
	sidecarSuffix = ".onnx.json"
)

// Descriptor identifies one installed voice pack. Descriptors are owned
// by the Registry and immutable after discovery; callers hold references.
type Descriptor struct {
	DisplayName string
	EngineID    string
	ModelPath   string
	ConfigPath  string
	SampleRate  int
}

// Registry is the catalog of installed voices, built exactly once at
// startup. It is safe for concurrent reads without locking.
type Registry struct {
	byDisplay map[string]*Descriptor
	byEngine  map[string]*Descriptor
	names     []string
}

type sidecarConfig struct {
	Audio struct {
		SampleRate int `json:"sample_rate"`
	} `json:"audio"`
}

// Discover scans dir for voice packs: a model file <base>.onnx paired
// with a sidecar <base>.onnx.json. Incomplete or unreadable packs are
// skipped; a missing directory is fatal because the server must not
// start without a catalog source.
func Discover(dir string, log *slog.Logger) (*Registry, error) {
	log = log.With(slog.String("component", "voice-registry"))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read voices dir %s: %w", dir, err)
	}

	reg := &Registry{
		byDisplay: make(map[string]*Descriptor),
		byEngine:  make(map[string]*Descriptor),
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, modelSuffix) || strings.HasSuffix(name, sidecarSuffix) {
			continue
		}
		base := strings.TrimSuffix(name, modelSuffix)
		modelPath := filepath.Join(dir, name)
		configPath := filepath.Join(dir, base+sidecarSuffix)

		rate, err := readSampleRate(configPath)
		if err != nil {
			log.Warn("skipping voice pack",
				slog.String("model", name),
				slog.String("error", err.Error()))
			continue
		}

		desc := &Descriptor{
			DisplayName: displayName(base),
			EngineID:    base,
			ModelPath:   modelPath,
			ConfigPath:  configPath,
			SampleRate:  rate,
		}
		if _, seen := reg.byDisplay[desc.DisplayName]; !seen {
			reg.names = append(reg.names, desc.DisplayName)
		}
		reg.byDisplay[desc.DisplayName] = desc
		reg.byEngine[desc.EngineID] = desc

		log.Info("registered voice",
			slog.String("voice", desc.DisplayName),
			slog.String("engine_id", desc.EngineID),
			slog.Int("sample_rate", rate))
	}

	if reg.Len() == 0 {
		log.Warn("no voice packs found", slog.String("dir", dir))
	}
	return reg, nil
}

func readSampleRate(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read sidecar: %w", err)
	}
	var cfg sidecarConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return 0, fmt.Errorf("parse sidecar: %w", err)
	}
	if cfg.Audio.SampleRate <= 0 {
		return 0, fmt.Errorf("sidecar missing audio.sample_rate")
	}
	return cfg.Audio.SampleRate, nil
}

// displayName derives the client-facing name from a pack basename of the
// form <lang>_<REGION>-<name>-<quality>, e.g. en_US-amy-medium becomes
// "Amy (US, medium)". Basenames that do not match fall back verbatim.
func displayName(base string) string {
	parts := strings.Split(base, "-")
	if len(parts) != 3 {
		return base
	}
	lang := strings.Split(parts[0], "_")
	if len(lang) != 2 {
		return base
	}
	return fmt.Sprintf("%s (%s, %s)", titleWords(parts[1]), lang[1], parts[2])
}

func titleWords(s string) string {
	words := strings.Split(strings.ReplaceAll(s, "_", " "), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

// Lookup resolves a client-facing display name.
func (r *Registry) Lookup(displayName string) (*Descriptor, bool) {
	d, ok := r.byDisplay[displayName]
	return d, ok
}

// ByEngineID resolves an internal engine identifier.
func (r *Registry) ByEngineID(id string) (*Descriptor, bool) {
	d, ok := r.byEngine[id]
	return d, ok
}

// DisplayNames returns the catalog in discovery order.
func (r *Registry) DisplayNames() []string {
	return append([]string(nil), r.names...)
}

func (r *Registry) Len() int {
	return len(r.byDisplay)
}
