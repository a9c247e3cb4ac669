// Package modelspec reads the layout of a diffusers-style model directory:
// model_index.json naming the pipeline components, the scheduler
// configuration, and the safetensors weight inventory of each component.
package modelspec

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"

	"github.com/pigmentdev/pigment/internal/scheduler"
)

// Component is one entry of model_index.json: the library and class that
// implement a pipeline component.
type Component struct {
	Library string
	Class   string
}

// WeightFile summarizes one safetensors file.
type WeightFile struct {
	Path    string // relative to the model dir
	Tensors int
	Params  int64
	DTypes  map[string]int
}

// Spec is the inspection result for a model directory.
type Spec struct {
	Dir           string
	PipelineClass string
	Version       string
	Components    map[string]Component
	Scheduler     *scheduler.Config
	Weights       []WeightFile
}

type modelIndex map[string]json.RawMessage

// Load inspects a model directory. model_index.json is required; the
// scheduler config and weight files are reported when present.
func Load(dir string) (*Spec, error) {
	indexPath := filepath.Join(dir, "model_index.json")
	data, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, fmt.Errorf("modelspec: %s is not a diffusers model directory: %w", dir, err)
	}
	var index modelIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("modelspec: parse %s: %w", indexPath, err)
	}

	spec := &Spec{
		Dir:        dir,
		Components: make(map[string]Component),
	}
	for key, msg := range index {
		switch key {
		case "_class_name":
			_ = json.Unmarshal(msg, &spec.PipelineClass)
		case "_diffusers_version":
			_ = json.Unmarshal(msg, &spec.Version)
		default:
			if strings.HasPrefix(key, "_") {
				continue
			}
			var pair []string
			if err := json.Unmarshal(msg, &pair); err != nil || len(pair) != 2 {
				continue
			}
			spec.Components[key] = Component{Library: pair[0], Class: pair[1]}
		}
	}

	if cfg, err := scheduler.LoadConfig(filepath.Join(dir, "scheduler", "scheduler_config.json")); err == nil {
		spec.Scheduler = &cfg
	}

	weights, err := scanWeights(dir)
	if err != nil {
		return nil, err
	}
	spec.Weights = weights
	return spec, nil
}

func scanWeights(dir string) ([]WeightFile, error) {
	var files []WeightFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".safetensors") {
			return nil
		}
		tensors, err := ReadHeader(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}
		wf := WeightFile{
			Path:    rel,
			Tensors: len(tensors),
			DTypes:  make(map[string]int),
		}
		for _, t := range tensors {
			wf.Params += t.Numel()
			wf.DTypes[t.DType]++
		}
		files = append(files, wf)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// ComponentNames returns the component keys in sorted order.
func (s *Spec) ComponentNames() []string {
	names := make([]string, 0, len(s.Components))
	for name := range s.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
