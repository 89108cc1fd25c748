package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

var esTargets = map[string]api.Target{
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

var engineNames = map[string]api.EngineName{
	"chrome":  api.EngineChrome,
	"edge":    api.EngineEdge,
	"firefox": api.EngineFirefox,
	"ie":      api.EngineIE,
	"ios":     api.EngineIOS,
	"node":    api.EngineNode,
	"opera":   api.EngineOpera,
	"safari":  api.EngineSafari,
}

func scriptLoader(path string) api.Loader {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts", ".mts", ".cts":
		return api.LoaderTS
	case ".tsx":
		return api.LoaderTSX
	case ".jsx":
		return api.LoaderJSX
	default:
		return api.LoaderJS
	}
}

// engines returns the configured engines sorted by name
func (p *Pipeline) engines() []api.Engine {
	names := make([]string, 0, len(p.cfg.Target.Engines))
	for name := range p.cfg.Target.Engines {
		names = append(names, name)
	}
	sort.Strings(names)

	engines := make([]api.Engine, 0, len(names))
	for _, name := range names {
		if engine, ok := engineNames[name]; ok {
			engines = append(engines, api.Engine{Name: engine, Version: p.cfg.Target.Engines[name]})
		}
	}
	return engines
}

// baseOptions returns the esbuild options shared by every stage
func (p *Pipeline) baseOptions(u unit, loader api.Loader) api.TransformOptions {
	production := p.cfg.Mode.IsProduction()
	return api.TransformOptions{
		Loader:            loader,
		Sourcefile:        u.relPath,
		Target:            esTargets[p.cfg.Target.ES],
		Engines:           p.engines(),
		MinifyWhitespace:  production,
		MinifySyntax:      production,
		MinifyIdentifiers: production,
		LogLevel:          api.LogLevelSilent,
	}
}

// scriptStage compiles TypeScript, JSX and modern JavaScript to CommonJS and
// records the specifiers the compiled module requires.
func (p *Pipeline) scriptStage(ctx context.Context, in unit) (unit, error) {
	if in.kind != kindSource {
		return unit{}, fmt.Errorf("script stage expects source input")
	}

	opts := p.baseOptions(in, scriptLoader(in.path))
	opts.Format = api.FormatCommonJS
	opts.Platform = api.PlatformBrowser
	opts.Define = map[string]string{
		"process.env.NODE_ENV": fmt.Sprintf("%q", p.cfg.Mode.String()),
	}
	if p.cfg.Target.JSX == "automatic" {
		opts.JSX = api.JSXAutomatic
		opts.JSXDev = !p.cfg.Mode.IsProduction()
	}
	if p.cfg.Output.Sourcemap && !p.cfg.Mode.IsProduction() {
		opts.Sourcemap = api.SourceMapInline
	}

	code, err := runEsbuild(string(in.code), opts)
	if err != nil {
		return unit{}, err
	}
	imports, err := scanImports(code, in.relPath)
	if err != nil {
		return unit{}, err
	}

	out := in
	out.kind = kindScript
	out.code = code
	out.imports = imports
	return out, nil
}

// externalPlugin marks every import external so a scan build never reads
// another file
var externalPlugin = api.Plugin{
	Name: "fluxpack-scan",
	Setup: func(build api.PluginBuild) {
		build.OnResolve(api.OnResolveOptions{Filter: ".*"}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
			return api.OnResolveResult{Path: args.Path, External: true}, nil
		})
	},
}

type scanMetafile struct {
	Inputs map[string]struct {
		Imports []struct {
			Path string `json:"path"`
			Kind string `json:"kind"`
		} `json:"imports"`
	} `json:"inputs"`
}

// scanImports returns the distinct specifiers code requires or imports, in
// source order. The import records come from esbuild's parser, so text that
// only looks like a require call inside a string, template or comment is not
// a dependency.
func scanImports(code []byte, relPath string) ([]string, error) {
	result := api.Build(api.BuildOptions{
		Stdin: &api.StdinOptions{
			Contents:   string(code),
			Sourcefile: relPath,
			Loader:     api.LoaderJS,
		},
		Bundle:   true,
		Write:    false,
		Metafile: true,
		LogLevel: api.LogLevelSilent,
		Plugins:  []api.Plugin{externalPlugin},
	})
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("failed to scan imports: %s", formatMessages(result.Errors))
	}

	var meta scanMetafile
	if err := json.Unmarshal([]byte(result.Metafile), &meta); err != nil {
		return nil, fmt.Errorf("failed to parse scan metafile: %w", err)
	}

	var specifiers []string
	seen := make(map[string]bool)
	for _, input := range meta.Inputs {
		for _, imp := range input.Imports {
			switch imp.Kind {
			case "require-call", "import-statement", "dynamic-import":
			default:
				continue
			}
			if !seen[imp.Path] {
				seen[imp.Path] = true
				specifiers = append(specifiers, imp.Path)
			}
		}
	}
	return specifiers, nil
}

// jsonStage turns a JSON document into a module exporting it
func (p *Pipeline) jsonStage(ctx context.Context, in unit) (unit, error) {
	if in.kind != kindSource {
		return unit{}, fmt.Errorf("json stage expects source input")
	}

	opts := p.baseOptions(in, api.LoaderJSON)
	opts.Format = api.FormatCommonJS

	code, err := runEsbuild(string(in.code), opts)
	if err != nil {
		return unit{}, err
	}

	out := in
	out.kind = kindScript
	out.code = code
	return out, nil
}

func runEsbuild(input string, opts api.TransformOptions) ([]byte, error) {
	result := api.Transform(input, opts)
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("%s", formatMessages(result.Errors))
	}
	return result.Code, nil
}

// formatMessages renders esbuild messages as file:line:column: text
func formatMessages(messages []api.Message) string {
	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		if msg.Location != nil {
			parts = append(parts, fmt.Sprintf("%s:%d:%d: %s",
				msg.Location.File, msg.Location.Line, msg.Location.Column, msg.Text))
		} else {
			parts = append(parts, msg.Text)
		}
	}
	return strings.Join(parts, "; ")
}
