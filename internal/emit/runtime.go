package emit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fluxbase-eu/fluxpack/internal/graph"
)

// chunkHeaderPrefix starts the first line of every chunk; the rest of the
// line is a JSON array of root-relative module paths followed by " */"
const chunkHeaderPrefix = "/* fluxpack-modules: "

// runtimeShim is invoked by every chunk with its module table and the
// numeric IDs of the entries to execute. The registry and instance cache live
// on the global object so chunks loaded by separate script tags share them.
// A module is cached before it runs so import cycles see partial exports.
const runtimeShim = `(function (modules, entries) {
  var g = typeof globalThis !== "undefined" ? globalThis : self;
  var registry = g.__fluxpack_modules__ || (g.__fluxpack_modules__ = {});
  var cache = g.__fluxpack_cache__ || (g.__fluxpack_cache__ = {});
  var has = Object.prototype.hasOwnProperty;
  for (var key in modules) {
    if (has.call(modules, key)) registry[key] = modules[key];
  }
  function load(id) {
    if (has.call(cache, id)) return cache[id].exports;
    var def = registry[id];
    if (!def) throw new Error("fluxpack: module " + id + " is not loaded");
    var module = (cache[id] = { exports: {} });
    var deps = def[1];
    var require = function (specifier) {
      if (!has.call(deps, specifier)) throw new Error("fluxpack: cannot find module '" + specifier + "'");
      return load(deps[specifier]);
    };
    require.p = %s;
    def[0].call(module.exports, module, module.exports, require);
    return module.exports;
  }
  for (var i = 0; i < entries.length; i++) load(entries[i]);
})`

// renderChunk serializes the modules of chunk. ids maps module IDs to their
// numeric runtime IDs.
func renderChunk(g *graph.Graph, chunk Chunk, ids map[string]int, publicPath string) ([]byte, error) {
	paths := make([]string, len(chunk.Modules))
	for i, id := range chunk.Modules {
		paths[i] = g.Modules[id].RelPath
	}
	header, err := json.Marshal(paths)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chunk header: %w", err)
	}
	publicLiteral, err := json.Marshal(publicPath)
	if err != nil {
		return nil, fmt.Errorf("failed to encode public path: %w", err)
	}

	var b bytes.Buffer
	b.WriteString(chunkHeaderPrefix)
	b.WriteString(strings.ReplaceAll(string(header), "*/", `*\/`))
	b.WriteString(" */\n")
	fmt.Fprintf(&b, runtimeShim, publicLiteral)
	b.WriteString("({\n")

	// module source maps become sections of one index map for the chunk
	sourceMap := &indexMap{Version: 3}
	lines, counted := 0, 0

	for i, id := range chunk.Modules {
		m := g.Modules[id]
		fmt.Fprintf(&b, "/* %s */\n%d: [function (module, exports, require) {\n", strings.ReplaceAll(m.RelPath, "*/", `*\/`), ids[id])

		code, moduleMap := splitInlineSourceMap(m.Code)
		if moduleMap != nil {
			lines += bytes.Count(b.Bytes()[counted:], []byte{'\n'})
			counted = b.Len()
			sourceMap.addSection(lines, moduleMap)
		}
		b.Write(code)
		if len(code) > 0 && code[len(code)-1] != '\n' {
			b.WriteByte('\n')
		}
		b.WriteString("}, {")
		for j, dep := range m.Deps {
			if j > 0 {
				b.WriteString(", ")
			}
			spec, _ := json.Marshal(dep.Specifier)
			fmt.Fprintf(&b, "%s: %d", spec, ids[dep.To])
		}
		b.WriteString("}]")
		if i < len(chunk.Modules)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}

	entries := make([]string, len(chunk.Entries))
	for i, id := range chunk.Entries {
		entries[i] = fmt.Sprint(ids[id])
	}
	fmt.Fprintf(&b, "}, [%s]);\n", strings.Join(entries, ", "))

	if len(sourceMap.Sections) > 0 {
		comment, err := sourceMap.comment()
		if err != nil {
			return nil, err
		}
		b.WriteString(comment)
	}
	return b.Bytes(), nil
}

// ParseChunkModules reads the module list declared in a chunk's header
func ParseChunkModules(chunk []byte) ([]string, error) {
	line, err := bufio.NewReader(bytes.NewReader(chunk)).ReadString('\n')
	if err != nil && line == "" {
		return nil, fmt.Errorf("empty chunk")
	}
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, chunkHeaderPrefix) || !strings.HasSuffix(line, " */") {
		return nil, fmt.Errorf("chunk has no module header")
	}
	body := strings.TrimSuffix(strings.TrimPrefix(line, chunkHeaderPrefix), " */")

	var modules []string
	if err := json.Unmarshal([]byte(body), &modules); err != nil {
		return nil, fmt.Errorf("invalid module header: %w", err)
	}
	return modules, nil
}
