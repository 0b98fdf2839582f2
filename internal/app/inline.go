package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vk/pretransform/internal/ctxlog"
	"github.com/vk/pretransform/internal/fsutil"
	"github.com/vk/pretransform/internal/planner"
	"github.com/vk/pretransform/internal/table"
	"golang.org/x/sync/errgroup"
)

// inlineFiles lists the explicitly named files followed by the files found
// in InlineDir. An explicit name shadows a directory file of the same name.
func (a *App) inlineFiles(ctx context.Context) ([]InlineFile, error) {
	logger := ctxlog.FromContext(ctx)
	files := append([]InlineFile(nil), a.config.InlineFiles...)
	if a.config.InlineDir == "" {
		return files, nil
	}

	paths, err := fsutil.FindFiles(a.config.InlineDir, ".msgpack", ".json")
	if err != nil {
		return nil, fmt.Errorf("failed to scan inline directory: %w", err)
	}
	named := make(map[string]bool, len(files))
	for _, f := range files {
		named[f.Name] = true
	}
	for _, path := range paths {
		name := fsutil.TrimExt(path)
		if named[name] {
			logger.Debug("Inline file shadowed.", "name", name, "path", path)
			continue
		}
		named[name] = true
		files = append(files, InlineFile{Name: name, Path: path})
	}
	return files, nil
}

// loadInline reads every inline dataset file concurrently, preserving order.
func (a *App) loadInline(ctx context.Context) ([]planner.InlineDataset, error) {
	logger := ctxlog.FromContext(ctx)
	files, err := a.inlineFiles(ctx)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	out := make([]planner.InlineDataset, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(a.planner.Workers(), 1))
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			payload, err := readInline(f.Path)
			if err != nil {
				return fmt.Errorf("failed to load inline dataset %q: %w", f.Name, err)
			}
			out[i] = planner.InlineDataset{Name: f.Name, Table: payload}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	logger.Debug("Inline datasets loaded.", "count", len(out))
	return out, nil
}

// readInline returns the payload of one file. Msgpack files are passed
// through; JSON files hold an array of row objects and are encoded.
func readInline(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".msgpack":
		return raw, nil
	case ".json":
		t, err := table.FromJSON(raw)
		if err != nil {
			return nil, err
		}
		return table.Encode(t)
	default:
		return nil, fmt.Errorf("unsupported file type %q: must be .msgpack or .json", filepath.Ext(path))
	}
}
