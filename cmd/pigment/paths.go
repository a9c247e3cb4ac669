package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	envPigmentOutDir    = "PIGMENT_OUT_DIR"
	envPigmentModelsDir = "PIGMENT_MODELS_DIR"
)

// resolveOutputDir picks where generated images land: the explicit flag,
// then $PIGMENT_OUT_DIR, then the current directory. The reported bool is
// true when the flag was empty and a default applied.
func resolveOutputDir(outFlag string) (string, bool, error) {
	outFlag = strings.TrimSpace(outFlag)
	if outFlag != "" {
		dir := filepath.Clean(outFlag)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", false, err
		}
		return dir, false, nil
	}

	dir := strings.TrimSpace(os.Getenv(envPigmentOutDir))
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", true, err
	}
	return dir, true, nil
}

// resolveModelDir picks the model directory: the explicit flag, else the
// single diffusers-layout model under $PIGMENT_MODELS_DIR. An empty result
// with nil error means no model is configured at all, which is fine for
// dry runs.
func resolveModelDir(modelFlag string) (string, error) {
	modelFlag = strings.TrimSpace(modelFlag)
	if modelFlag != "" {
		return filepath.Clean(modelFlag), nil
	}

	modelsDir := strings.TrimSpace(os.Getenv(envPigmentModelsDir))
	if modelsDir == "" {
		return "", nil
	}

	models, err := discoverModelDirs(modelsDir)
	if err != nil {
		return "", err
	}
	switch len(models) {
	case 0:
		return "", fmt.Errorf("no model directories with a model_index.json found in %s", modelsDir)
	case 1:
		return models[0], nil
	default:
		return "", fmt.Errorf("multiple models found in %s; pick one with --model", modelsDir)
	}
}

// discoverModelDirs lists subdirectories of dir that look like diffusers
// model layouts, sorted by name.
func discoverModelDirs(dir string) ([]string, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("models path is not a directory: %s", dir)
	}

	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	models := make([]string, 0, len(ents))
	for _, e := range ents {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if _, err := os.Stat(filepath.Join(path, "model_index.json")); err != nil {
			continue
		}
		models = append(models, path)
	}
	sort.Strings(models)
	return models, nil
}
