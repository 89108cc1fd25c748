// Package emit serializes a dependency graph into chunks, stylesheets, media
// files, an HTML shell and manifests.
package emit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fluxbase-eu/fluxpack/internal/config"
	"github.com/fluxbase-eu/fluxpack/internal/graph"
	"github.com/fluxbase-eu/fluxpack/internal/naming"
	"github.com/fluxbase-eu/fluxpack/internal/transform"
	"github.com/rs/zerolog/log"
)

const (
	// ManifestFile maps logical names to emitted paths
	ManifestFile = "asset-manifest.json"
	// MetaFile records inputs and outputs in esbuild metafile layout
	MetaFile = "meta.json"
)

// EmitError is returned when output cannot be produced or written. The
// existing output root is left untouched.
type EmitError struct {
	Path  string
	Op    string
	Cause error
}

func (e *EmitError) Error() string {
	return fmt.Sprintf("emit %s %s: %v", e.Op, e.Path, e.Cause)
}

func (e *EmitError) Unwrap() error {
	return e.Cause
}

// File kinds in Result.Files
const (
	KindScript     = "script"
	KindStylesheet = "stylesheet"
	KindMedia      = "media"
	KindHTML       = "html"
	KindManifest   = "manifest"
)

// OutputFile is one emitted file. Path is relative to the output root.
type OutputFile struct {
	Path string `json:"path"`
	Kind string `json:"kind"`
	Size int    `json:"size"`
}

// ChunkOutput names the files emitted for a chunk
type ChunkOutput struct {
	Name       string `json:"name"`
	Script     string `json:"script"`
	Stylesheet string `json:"stylesheet,omitempty"`
	Modules    int    `json:"modules"`
}

// Result describes a successful emit
type Result struct {
	OutDir    string        `json:"out_dir"`
	BuildHash string        `json:"build_hash"`
	Chunks    []ChunkOutput `json:"chunks"`
	Files     []OutputFile  `json:"files"`
}

// Emitter writes build output for one configuration
type Emitter struct {
	cfg *config.Config
}

// New creates an emitter
func New(cfg *config.Config) *Emitter {
	return &Emitter{cfg: cfg}
}

type pendingFile struct {
	OutputFile
	data []byte
}

// Emit renders g according to plan and publishes the output root. Either the
// whole output appears or, on error, the previous output root is left as it
// was.
func (e *Emitter) Emit(ctx context.Context, g *graph.Graph, plan *ChunkPlan) (*Result, error) {
	if err := plan.Validate(g); err != nil {
		return nil, &EmitError{Path: e.cfg.Output.Dir, Op: "plan", Cause: err}
	}

	files, result, err := e.render(g, plan)
	if err != nil {
		return nil, err
	}

	stage, err := newStaging(e.cfg.Output.Dir)
	if err != nil {
		return nil, err
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			stage.abort()
			return nil, &EmitError{Path: f.Path, Op: "write", Cause: err}
		}
		if err := stage.write(f.Path, f.data); err != nil {
			stage.abort()
			return nil, err
		}
	}

	if err := stage.commit(e.cfg.Output.Clean); err != nil {
		stage.abort()
		return nil, err
	}

	log.Debug().Str("dir", e.cfg.Output.Dir).Int("files", len(files)).Msg("Output committed")
	return result, nil
}

// render produces every output file in memory. Files are ordered by path.
func (e *Emitter) render(g *graph.Graph, plan *ChunkPlan) ([]pendingFile, *Result, error) {
	order := Order(g)
	ids := make(map[string]int, len(order))
	for i, id := range order {
		ids[id] = i
	}

	publicPath := e.cfg.Output.PublicPath

	type rendered struct {
		chunk  Chunk
		script []byte
		css    []byte
	}
	chunks := make([]rendered, 0, len(plan.Chunks))
	buildHash := bytes.Buffer{}

	for _, chunk := range plan.Chunks {
		script, err := renderChunk(g, chunk, ids, publicPath)
		if err != nil {
			return nil, nil, &EmitError{Path: chunk.Name, Op: "render", Cause: err}
		}
		css := chunkStylesheet(g, chunk)
		chunks = append(chunks, rendered{chunk: chunk, script: script, css: css})
		buildHash.WriteString(naming.ContentHash(script))
		buildHash.WriteString(naming.ContentHash(css))
	}

	var files []pendingFile
	seen := make(map[string]bool)
	add := func(p, kind string, data []byte) error {
		if seen[p] {
			return &EmitError{Path: p, Op: "render", Cause: errors.New("two outputs share this path")}
		}
		seen[p] = true
		files = append(files, pendingFile{OutputFile: OutputFile{Path: p, Kind: kind, Size: len(data)}, data: data})
		return nil
	}

	// media first so chunk names can never shadow them silently
	manifest := map[string]string{}
	for _, id := range order {
		for _, a := range g.Modules[id].Artifacts {
			if a.Kind != transform.ArtifactMedia || seen[a.Path] {
				continue
			}
			if err := add(a.Path, KindMedia, a.Content); err != nil {
				return nil, nil, err
			}
			manifest[a.Name] = publicPath + a.Path
		}
	}

	result := &Result{OutDir: e.cfg.Output.Dir, BuildHash: naming.ContentHash(buildHash.Bytes())}
	meta := &Metafile{Inputs: make(map[string]MetafileInput), Outputs: make(map[string]MetafileOutput)}
	var stylesheets, scripts, entrypoints []string

	for _, r := range chunks {
		out := ChunkOutput{Name: r.chunk.Name, Modules: len(r.chunk.Modules)}

		out.Script = naming.Expand(e.cfg.Output.Filename, naming.Vars{
			Name:        r.chunk.Name,
			Ext:         "js",
			Hash:        result.BuildHash,
			ContentHash: naming.ContentHash(r.script),
		})
		if err := add(out.Script, KindScript, r.script); err != nil {
			return nil, nil, err
		}
		manifest[r.chunk.Name+".js"] = publicPath + out.Script
		scripts = append(scripts, publicPath+out.Script)
		meta.Outputs[out.Script] = e.scriptOutput(g, r.chunk, len(r.script))

		if len(r.css) > 0 {
			out.Stylesheet = naming.Expand(e.cfg.Output.CSSFilename, naming.Vars{
				Name:        r.chunk.Name,
				Ext:         "css",
				Hash:        result.BuildHash,
				ContentHash: naming.ContentHash(r.css),
			})
			if err := add(out.Stylesheet, KindStylesheet, r.css); err != nil {
				return nil, nil, err
			}
			manifest[r.chunk.Name+".css"] = publicPath + out.Stylesheet
			stylesheets = append(stylesheets, publicPath+out.Stylesheet)
			meta.Outputs[out.Stylesheet] = stylesheetOutput(g, r.chunk, len(r.css))
			entrypoints = append(entrypoints, out.Stylesheet)
		}
		entrypoints = append(entrypoints, out.Script)
		result.Chunks = append(result.Chunks, out)
	}

	for _, id := range order {
		m := g.Modules[id]
		meta.Inputs[m.RelPath] = metafileInput(g, m)
	}

	if e.cfg.HTML.Enabled {
		shell, err := e.renderShell(stylesheets, scripts)
		if err != nil {
			return nil, nil, err
		}
		if err := add(e.cfg.HTML.Filename, KindHTML, shell); err != nil {
			return nil, nil, err
		}
		manifest[e.cfg.HTML.Filename] = publicPath + e.cfg.HTML.Filename
	}

	manifestJSON, err := json.MarshalIndent(struct {
		Files       map[string]string `json:"files"`
		Entrypoints []string          `json:"entrypoints"`
	}{Files: manifest, Entrypoints: entrypoints}, "", "  ")
	if err != nil {
		return nil, nil, &EmitError{Path: ManifestFile, Op: "render", Cause: err}
	}
	if err := add(ManifestFile, KindManifest, append(manifestJSON, '\n')); err != nil {
		return nil, nil, err
	}

	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, nil, &EmitError{Path: MetaFile, Op: "render", Cause: err}
	}
	if err := add(MetaFile, KindManifest, append(metaJSON, '\n')); err != nil {
		return nil, nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	for _, f := range files {
		result.Files = append(result.Files, f.OutputFile)
	}
	return files, result, nil
}

// chunkStylesheet concatenates the extracted stylesheets of a chunk's modules
// in emit order
func chunkStylesheet(g *graph.Graph, chunk Chunk) []byte {
	var b bytes.Buffer
	for _, id := range chunk.Modules {
		for _, a := range g.Modules[id].Artifacts {
			if a.Kind != transform.ArtifactStylesheet {
				continue
			}
			b.Write(a.Content)
			if len(a.Content) > 0 && a.Content[len(a.Content)-1] != '\n' {
				b.WriteByte('\n')
			}
		}
	}
	return b.Bytes()
}

func (e *Emitter) renderShell(stylesheets, scripts []string) ([]byte, error) {
	var template []byte
	if e.cfg.HTML.Template != "" {
		data, err := os.ReadFile(e.cfg.HTML.Template)
		switch {
		case err == nil:
			template = data
		case errors.Is(err, os.ErrNotExist):
			log.Debug().Str("template", e.cfg.HTML.Template).Msg("HTML template not found, using built-in shell")
		default:
			return nil, &EmitError{Path: e.cfg.HTML.Template, Op: "read", Cause: err}
		}
	}

	shell, err := renderHTML(template, e.cfg.HTML.Title, e.cfg.Output.PublicPath, stylesheets, scripts)
	if err != nil {
		return nil, &EmitError{Path: e.cfg.HTML.Filename, Op: "render", Cause: err}
	}
	return shell, nil
}

func metafileInput(g *graph.Graph, m *graph.Module) MetafileInput {
	in := MetafileInput{Bytes: m.Size, Imports: []MetafileImport{}, Format: "cjs"}
	for _, dep := range m.Deps {
		target := g.Modules[dep.To]
		in.Imports = append(in.Imports, MetafileImport{
			Path:     target.RelPath,
			Kind:     "require-call",
			External: target.External != "",
			Original: dep.Specifier,
		})
	}
	return in
}

func (e *Emitter) scriptOutput(g *graph.Graph, chunk Chunk, size int) MetafileOutput {
	out := MetafileOutput{
		Bytes:   size,
		Inputs:  make(map[string]InputContrib, len(chunk.Modules)),
		Imports: []MetafileImport{},
		Exports: []string{},
	}
	for _, id := range chunk.Modules {
		m := g.Modules[id]
		out.Inputs[m.RelPath] = InputContrib{BytesInOutput: len(m.Code)}
		if m.External != "" {
			out.Imports = append(out.Imports, MetafileImport{Path: strings.TrimPrefix(id, graph.ExternalPrefix), Kind: "require-call", External: true})
		}
	}
	if len(chunk.Entries) == 1 {
		out.EntryPoint = g.Modules[chunk.Entries[0]].RelPath
	}
	return out
}

func stylesheetOutput(g *graph.Graph, chunk Chunk, size int) MetafileOutput {
	out := MetafileOutput{
		Bytes:   size,
		Inputs:  make(map[string]InputContrib),
		Imports: []MetafileImport{},
		Exports: []string{},
	}
	for _, id := range chunk.Modules {
		for _, a := range g.Modules[id].Artifacts {
			if a.Kind == transform.ArtifactStylesheet {
				out.Inputs[a.Name] = InputContrib{BytesInOutput: len(a.Content)}
			}
		}
	}
	return out
}
