package emit

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const inlineMapPrefix = "//# sourceMappingURL=data:application/json;base64,"

// mapSection places one module's source map at the chunk line where the
// module's code starts
type mapSection struct {
	Offset struct {
		Line   int `json:"line"`
		Column int `json:"column"`
	} `json:"offset"`
	Map json.RawMessage `json:"map"`
}

// indexMap is a source map v3 index map covering a whole chunk
type indexMap struct {
	Version  int          `json:"version"`
	File     string       `json:"file,omitempty"`
	Sections []mapSection `json:"sections"`
}

// splitInlineSourceMap removes a trailing inline source map comment from
// code and returns the decoded map. Code without a readable map comes back
// unchanged with a nil map.
func splitInlineSourceMap(code []byte) ([]byte, json.RawMessage) {
	idx := bytes.LastIndex(code, []byte(inlineMapPrefix))
	if idx < 0 || (idx > 0 && code[idx-1] != '\n') {
		return code, nil
	}

	end := len(code)
	if nl := bytes.IndexByte(code[idx:], '\n'); nl >= 0 {
		end = idx + nl + 1
	}
	encoded := bytes.TrimSpace(code[idx+len(inlineMapPrefix) : end])
	decoded, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil || !json.Valid(decoded) {
		return code, nil
	}

	stripped := make([]byte, 0, len(code)-(end-idx))
	stripped = append(stripped, code[:idx]...)
	stripped = append(stripped, code[end:]...)
	return stripped, json.RawMessage(decoded)
}

// addSection records a module map starting at line of the chunk
func (m *indexMap) addSection(line int, sourceMap json.RawMessage) {
	var s mapSection
	s.Offset.Line = line
	s.Map = sourceMap
	m.Sections = append(m.Sections, s)
}

// comment renders the map as an inline source map comment
func (m *indexMap) comment() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode source map: %w", err)
	}
	return inlineMapPrefix + base64.StdEncoding.EncodeToString(data) + "\n", nil
}
