package hcl

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/dnnflow/internal/config"
	"github.com/vk/dnnflow/internal/ctxlog"
	"github.com/vk/dnnflow/internal/fsutil"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new HCL configuration loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load parses every .hcl file found under paths, in lexical order, and merges
// their blocks over config.Default(). Later files override earlier ones
// attribute by attribute.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	model := config.Default()

	hclFiles, err := l.findAllHCLFiles(paths)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered HCL files.", "count", len(hclFiles))

	parser := hclparse.NewParser()
	evalCtx := newEvalContext()

	for _, file := range hclFiles {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}

		var root fileRoot
		diags = gohcl.DecodeBody(hclFile.Body, evalCtx, &root)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}
		for _, b := range []struct {
			kind string
			n    int
		}{
			{"training", len(root.Training)},
			{"dataset", len(root.Dataset)},
			{"report", len(root.Report)},
		} {
			if err := singleBlock(file, b.kind, b.n); err != nil {
				return nil, err
			}
		}
		for _, b := range root.Training {
			l.translateTraining(b, &model.Training)
		}
		for _, b := range root.Dataset {
			if err := l.translateDataset(b, &model.Dataset); err != nil {
				return nil, fmt.Errorf("in %s: %w", file, err)
			}
		}
		for _, b := range root.Report {
			l.translateReport(b, &model.Report)
		}
	}

	logger.Debug("HCL loading complete.",
		"layers", model.Training.Layers,
		"epochs", model.Training.Epochs,
		"replicas", model.Training.Replicas,
		"workers", model.Training.Workers,
	)
	return model, nil
}

// findAllHCLFiles walks all given paths and returns a sorted, de-duplicated
// list of all .hcl files found.
func (l *Loader) findAllHCLFiles(paths []string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, wasSeen := seen[p]; !wasSeen {
			allFiles = append(allFiles, p)
			seen[p] = struct{}{}
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}

		if !info.IsDir() {
			add(path)
			continue
		}
		files, err := fsutil.FindFilesByExtension(path, ".hcl")
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			add(f)
		}
	}
	sort.Strings(allFiles)
	return allFiles, nil
}
