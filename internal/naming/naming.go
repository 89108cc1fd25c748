// Package naming expands output filename templates such as
// static/js/[name].[contenthash:8].js.
package naming

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
)

// Vars holds placeholder values. Hash is the build hash and ContentHash the
// digest of the file being named; both are hex strings.
type Vars struct {
	Name        string
	Ext         string // without the leading dot
	Hash        string
	ContentHash string
}

var placeholderPattern = regexp.MustCompile(`\[(name|ext|hash|contenthash)(?::(\d+))?\]`)

// Expand replaces [name], [ext], [hash] and [contenthash] in template.
// Hash placeholders accept a length, e.g. [contenthash:8]. Unknown
// bracketed text is left alone.
func Expand(template string, vars Vars) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		parts := placeholderPattern.FindStringSubmatch(match)
		var value string
		switch parts[1] {
		case "name":
			return vars.Name
		case "ext":
			return vars.Ext
		case "hash":
			value = vars.Hash
		case "contenthash":
			value = vars.ContentHash
		}
		if parts[2] != "" {
			if n, err := strconv.Atoi(parts[2]); err == nil && n < len(value) {
				value = value[:n]
			}
		}
		return value
	})
}

// ContentHash returns the hex sha256 digest of data
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
