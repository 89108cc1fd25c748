package transform

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/fluxbase-eu/fluxpack/internal/naming"
)

var assetMimeTypes = map[string]string{
	".svg":   "image/svg+xml",
	".png":   "image/png",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".gif":   "image/gif",
	".webp":  "image/webp",
	".avif":  "image/avif",
	".ico":   "image/x-icon",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":   "font/ttf",
}

func mimeType(relPath string) string {
	ext := strings.ToLower(path.Ext(relPath))
	if t, ok := assetMimeTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// assetStage inlines small files as data URIs and emits larger ones as media
// artifacts referenced through the runtime public path
func (p *Pipeline) assetStage(ctx context.Context, in unit) (unit, error) {
	if in.kind != kindSource {
		return unit{}, fmt.Errorf("asset stage expects source input")
	}

	out := in
	out.kind = kindScript

	if int64(len(in.code)) <= p.cfg.Assets.InlineLimit {
		uri := "data:" + mimeType(in.relPath) + ";base64," + base64.StdEncoding.EncodeToString(in.code)
		literal, _ := json.Marshal(uri)
		out.code = []byte(fmt.Sprintf("module.exports = %s;\n", literal))
		return out, nil
	}

	hash := naming.ContentHash(in.code)
	base := path.Base(in.relPath)
	ext := path.Ext(base)
	outPath := naming.Expand(p.cfg.Output.AssetFilename, naming.Vars{
		Name:        strings.TrimSuffix(base, ext),
		Ext:         strings.TrimPrefix(ext, "."),
		Hash:        hash,
		ContentHash: hash,
	})

	literal, _ := json.Marshal(outPath)
	out.code = []byte(fmt.Sprintf("module.exports = require.p + %s;\n", literal))
	out.artifacts = append(append([]Artifact(nil), in.artifacts...), Artifact{
		Kind:    ArtifactMedia,
		Name:    in.relPath,
		Path:    outPath,
		Content: in.code,
		Hash:    hash,
	})
	return out, nil
}

// textStage exports the file content as a string
func (p *Pipeline) textStage(ctx context.Context, in unit) (unit, error) {
	if in.kind != kindSource {
		return unit{}, fmt.Errorf("text stage expects source input")
	}

	literal, err := json.Marshal(string(in.code))
	if err != nil {
		return unit{}, fmt.Errorf("failed to encode text: %w", err)
	}

	out := in
	out.kind = kindScript
	out.code = []byte(fmt.Sprintf("module.exports = %s;\n", literal))
	return out, nil
}
