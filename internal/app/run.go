package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/vk/pretransform/internal/planner"
)

// specOutput is the spec command's result. The rewritten chart is embedded
// as JSON rather than as a string.
type specOutput struct {
	Spec     json.RawMessage   `json:"spec"`
	Warnings []planner.Warning `json:"warnings"`
}

// Run executes the configured command and writes its JSON result.
func (a *App) Run(ctx context.Context) error {
	ctx = a.context(ctx)
	a.logger.Debug("App.Run method started.", "command", a.config.Command, "spec_path", a.config.SpecPath)

	text, err := os.ReadFile(a.config.SpecPath)
	if err != nil {
		return fmt.Errorf("failed to read chart: %w", err)
	}
	inline, err := a.loadInline(ctx)
	if err != nil {
		return err
	}

	var result any
	switch a.config.Command {
	case CommandSpec:
		result, err = a.runSpec(ctx, string(text), inline)
	case CommandValues:
		result, err = a.runValues(ctx, string(text), inline)
	default:
		err = fmt.Errorf("unknown command %q", a.config.Command)
	}
	if err != nil {
		return fmt.Errorf("%s failed: %w", a.config.Command, err)
	}

	enc := json.NewEncoder(a.outW)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	a.logger.Debug("App.Run method finished.")
	return nil
}

func (a *App) runSpec(ctx context.Context, text string, inline []planner.InlineDataset) (*specOutput, error) {
	preserve := a.config.PreserveInteractivity
	resp, err := a.planner.PreTransformSpec(ctx, planner.SpecRequest{
		Spec:     text,
		LocalTZ:  a.config.LocalTZ,
		OutputTZ: a.config.OutputTZ,
		Opts: planner.SpecOpts{
			RowLimit:              a.config.RowLimit,
			InlineDatasets:        inline,
			PreserveInteractivity: &preserve,
		},
	})
	if err != nil {
		return nil, err
	}
	a.logWarnings(resp.Warnings)

	out := &specOutput{Spec: json.RawMessage("null"), Warnings: resp.Warnings}
	if resp.Spec != "" {
		out.Spec = json.RawMessage(resp.Spec)
	}
	if out.Warnings == nil {
		out.Warnings = []planner.Warning{}
	}
	return out, nil
}

func (a *App) runValues(ctx context.Context, text string, inline []planner.InlineDataset) (*planner.ValuesResponse, error) {
	vars := make([]planner.VariableRequest, len(a.config.Variables))
	for i, v := range a.config.Variables {
		vars[i] = planner.VariableRequest{Variable: v.Variable, Scope: v.Scope}
	}
	resp, err := a.planner.PreTransformValues(ctx, planner.ValuesRequest{
		Spec:           text,
		LocalTZ:        a.config.LocalTZ,
		DefaultInputTZ: a.config.DefaultInputTZ,
		Opts: planner.ValuesOpts{
			Variables:      vars,
			InlineDatasets: inline,
			RowLimit:       a.config.RowLimit,
		},
	})
	if err != nil {
		return nil, err
	}
	a.logWarnings(resp.Warnings)
	if resp.Warnings == nil {
		resp.Warnings = []planner.Warning{}
	}
	return resp, nil
}

func (a *App) logWarnings(warnings []planner.Warning) {
	for _, w := range warnings {
		a.logger.Warn(w.Message, "type", w.Kind.String(), "vars", len(w.Vars))
	}
}
