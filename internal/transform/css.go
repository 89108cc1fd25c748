package transform

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/fluxbase-eu/fluxpack/internal/naming"
)

// matches @import "x"; @import 'x' screen; @import url(x); @import url("x");
var cssImportPattern = regexp.MustCompile(`@import\s+(?:url\(\s*)?["']?([^"')\s;]+)["']?\s*\)?[^;]*;`)

// cssStage lowers and (in production) minifies a stylesheet. Local @import
// rules are removed from the text and recorded so they become module
// dependencies; remote ones stay in the stylesheet.
func (p *Pipeline) cssStage(ctx context.Context, in unit) (unit, error) {
	if in.kind == kindScript {
		return unit{}, fmt.Errorf("css stage expects stylesheet input")
	}

	source, imports := extractImports(string(in.code))

	opts := p.baseOptions(in, api.LoaderCSS)
	opts.Target = api.DefaultTarget
	code, err := runEsbuild(source, opts)
	if err != nil {
		return unit{}, err
	}

	out := in
	out.kind = kindStylesheet
	out.code = code
	out.cssImports = append(append([]string(nil), in.cssImports...), imports...)
	return out, nil
}

func extractImports(source string) (string, []string) {
	var imports []string
	stripped := cssImportPattern.ReplaceAllStringFunc(source, func(rule string) string {
		target := cssImportPattern.FindStringSubmatch(rule)[1]
		if isRemote(target) {
			return rule
		}
		imports = append(imports, target)
		return ""
	})
	return stripped, imports
}

func isRemote(target string) bool {
	return strings.HasPrefix(target, "http://") ||
		strings.HasPrefix(target, "https://") ||
		strings.HasPrefix(target, "//") ||
		strings.HasPrefix(target, "data:")
}

// cssModulesStage renames every class selector to a module-local name and
// records the mapping for the module's exports. :global(...) groups are
// unwrapped and their names left alone.
func (p *Pipeline) cssModulesStage(ctx context.Context, in unit) (unit, error) {
	if in.kind == kindScript {
		return unit{}, fmt.Errorf("css-modules stage expects stylesheet input")
	}

	classMap := make(map[string]string)
	for k, v := range in.classMap {
		classMap[k] = v
	}

	scoped := scopeClasses(string(in.code), func(local string) string {
		if name, ok := classMap[local]; ok {
			return name
		}
		name := p.localIdent(in.relPath, local)
		classMap[local] = name
		return name
	})

	out := in
	out.kind = kindStylesheet
	out.code = []byte(scoped)
	out.classMap = classMap
	return out, nil
}

// localIdent names a scoped class: [local]-[hash:base64:5] in production and
// [name]__[local] in development
func (p *Pipeline) localIdent(relPath, local string) string {
	if p.cfg.Mode.IsProduction() {
		sum := sha256.Sum256([]byte(relPath + "\x00" + local))
		return local + "-" + base64.RawURLEncoding.EncodeToString(sum[:])[:5]
	}
	base := path.Base(relPath)
	name := strings.TrimSuffix(base, path.Ext(base))
	return strings.ReplaceAll(name, ".", "_") + "__" + local
}

// scopeClasses rewrites class selectors in css with rename. It skips
// comments, strings, url() arguments, declaration blocks, keyframes
// bodies and :global(...) groups, unwrapping the latter.
func scopeClasses(css string, rename func(string) string) string {
	var (
		b       strings.Builder
		blocks  []bool // true when the open block holds rules, false for declarations
		prelude strings.Builder
	)

	inRules := func() bool {
		return len(blocks) == 0 || blocks[len(blocks)-1]
	}

	i := 0
	for i < len(css) {
		c := css[i]

		switch {
		case strings.HasPrefix(css[i:], "/*"):
			end := strings.Index(css[i+2:], "*/")
			if end < 0 {
				end = len(css) - i - 2
			} else {
				end += 2
			}
			b.WriteString(css[i : i+2+end])
			i += 2 + end
			continue

		case c == '"' || c == '\'':
			j := i + 1
			for j < len(css) && css[j] != c {
				if css[j] == '\\' {
					j++
				}
				j++
			}
			if j < len(css) {
				j++
			}
			b.WriteString(css[i:j])
			prelude.WriteString(css[i:j])
			i = j
			continue

		case strings.HasPrefix(strings.ToLower(css[i:]), "url("):
			j := strings.IndexByte(css[i:], ')')
			if j < 0 {
				j = len(css) - i - 1
			}
			b.WriteString(css[i : i+j+1])
			i += j + 1
			continue

		case c == '{':
			p := strings.TrimSpace(prelude.String())
			blocks = append(blocks, inRules() && isGroupingRule(p))
			prelude.Reset()

		case c == '}':
			if len(blocks) > 0 {
				blocks = blocks[:len(blocks)-1]
			}
			prelude.Reset()

		case c == ';' && inRules():
			prelude.Reset()

		case inRules() && strings.HasPrefix(css[i:], ":global("):
			j := matchParen(css, i+len(":global"))
			inner := css[i+len(":global(") : j-1]
			b.WriteString(inner)
			prelude.WriteString(inner)
			i = j
			continue

		case c == '.' && inRules() && i+1 < len(css) && isIdentStart(css[i+1]):
			j := i + 1
			for j < len(css) && isIdentChar(css[j]) {
				j++
			}
			local := css[i+1 : j]
			b.WriteByte('.')
			b.WriteString(rename(local))
			prelude.WriteString(css[i:j])
			i = j
			continue
		}

		b.WriteByte(c)
		if c != '{' && c != '}' && c != ';' {
			prelude.WriteByte(c)
		}
		i++
	}
	return b.String()
}

// isGroupingRule reports whether an at-rule prelude opens a block of rules
// rather than declarations
func isGroupingRule(prelude string) bool {
	for _, at := range []string{"@media", "@supports", "@layer", "@container", "@document"} {
		if strings.HasPrefix(prelude, at) {
			return true
		}
	}
	return false
}

// matchParen returns the index just past the parenthesis closing the one at open
func matchParen(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(s)
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '-' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// extractStage moves the stylesheet into a side artifact. The module keeps
// the class map and requires the stylesheet's @import dependencies.
func (p *Pipeline) extractStage(ctx context.Context, in unit) (unit, error) {
	if in.kind != kindStylesheet {
		return unit{}, fmt.Errorf("extract stage expects stylesheet input")
	}

	artifact := Artifact{
		Kind:    ArtifactStylesheet,
		Name:    in.relPath,
		Content: in.code,
		Hash:    naming.ContentHash(in.code),
	}

	out := in
	out.kind = kindScript
	out.code = styleModule(in, "")
	out.imports = dedupe(in.cssImports)
	out.artifacts = append(append([]Artifact(nil), in.artifacts...), artifact)
	return out, nil
}

// styleInjectModule keeps the stylesheet in the script and appends it to the
// document when the module runs
func styleInjectModule(u unit) []byte {
	css, _ := json.Marshal(string(u.code))
	inject := fmt.Sprintf("var css = %s;\nif (typeof document !== \"undefined\") {\n"+
		"  var style = document.createElement(\"style\");\n"+
		"  style.textContent = css;\n"+
		"  document.head.appendChild(style);\n}\n", css)
	return styleModule(u, inject)
}

func styleModule(u unit, body string) []byte {
	var b strings.Builder
	for _, imp := range dedupe(u.cssImports) {
		spec, _ := json.Marshal(imp)
		fmt.Fprintf(&b, "require(%s);\n", spec)
	}
	b.WriteString(body)

	exports := []byte("{}")
	if len(u.classMap) > 0 {
		exports, _ = json.Marshal(u.classMap)
	}
	fmt.Fprintf(&b, "module.exports = %s;\n", exports)
	return []byte(b.String())
}
