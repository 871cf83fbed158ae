package ecosystem

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/core-tools/hsu-supervisor-go/pkg/errors"

	"gopkg.in/yaml.v3"
)

// Format is the on-disk representation of an ecosystem file
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatJS   Format = "js" // module.exports = { apps: [...] };
)

// FormatFromFilename picks the format by file extension
func FormatFromFilename(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".js", ".cjs", ".mjs":
		return FormatJS, nil
	default:
		return "", errors.NewValidationError(
			fmt.Sprintf("unsupported configuration file extension: %q", filepath.Ext(filename)),
			nil,
		).WithContext("filename", filename).WithContext("supported_extensions", ".yaml, .yml, .json, .js, .cjs, .mjs")
	}
}

var jsExportPattern = regexp.MustCompile(`\b(?:module\.exports\s*=|export\s+default\b)`)

// unwrapJSModule turns a CommonJS/ES module that exports an object literal into
// a YAML flow document. Statements before the export, such as require calls or
// "use strict", are dropped. Dropped text keeps its newlines so line numbers in
// parse errors still point into the original file.
func unwrapJSModule(data []byte) ([]byte, error) {
	text := stripJSComments(string(data))

	loc := jsExportPattern.FindStringIndex(text)
	if loc == nil {
		return nil, errors.NewValidationError("expected 'module.exports = { ... }' or 'export default { ... }'", nil)
	}
	body := strings.Repeat("\n", strings.Count(text[:loc[0]], "\n")) + text[loc[1]:]

	body = strings.TrimRightFunc(body, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	body = strings.TrimSuffix(body, ";")

	return []byte(body), nil
}

// stripJSComments blanks // and /* */ comments outside string literals
func stripJSComments(src string) string {
	var out strings.Builder
	out.Grow(len(src))

	var quote byte
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case quote != 0:
			out.WriteByte(c)
			if c == '\\' && i+1 < len(src) {
				i++
				out.WriteByte(src[i])
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'' || c == '`':
			quote = c
			out.WriteByte(c)
		case c == '/' && strings.HasPrefix(src[i:], "//"):
			for i < len(src) && src[i] != '\n' {
				i++
			}
			if i < len(src) {
				out.WriteByte('\n')
			}
		case c == '/' && strings.HasPrefix(src[i:], "/*"):
			comment := src[i:]
			if end := strings.Index(src[i+2:], "*/"); end >= 0 {
				comment = src[i : i+2+end+2]
			}
			// A space keeps the tokens around an inline comment apart
			out.WriteByte(' ')
			out.WriteString(strings.Repeat("\n", strings.Count(comment, "\n")))
			i += len(comment) - 1
		default:
			out.WriteByte(c)
		}
	}
	return out.String()
}

// ParseConfig decodes configuration data in the given format. Unknown keys are rejected.
func ParseConfig(data []byte, format Format) (*EcosystemConfig, error) {
	switch format {
	case FormatYAML, FormatJSON:
	case FormatJS:
		unwrapped, err := unwrapJSModule(data)
		if err != nil {
			return nil, err
		}
		data = unwrapped
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("unsupported configuration format: %s", format), nil)
	}

	// JSON is decoded by the YAML decoder too, which gives uniform strict-key handling
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var config EcosystemConfig
	if err := decoder.Decode(&config); err != nil {
		if err == io.EOF {
			return nil, errors.NewValidationError("configuration is empty", nil)
		}
		return nil, errors.NewValidationError("failed to decode configuration", err).WithContext("format", string(format))
	}

	return &config, nil
}

// MarshalConfig serializes configuration in the given format
func MarshalConfig(config *EcosystemConfig, format Format) ([]byte, error) {
	if config == nil {
		return nil, errors.NewValidationError("configuration cannot be nil", nil)
	}

	switch format {
	case FormatYAML:
		var buf bytes.Buffer
		encoder := yaml.NewEncoder(&buf)
		encoder.SetIndent(2)
		if err := encoder.Encode(config); err != nil {
			return nil, errors.NewInternalError("failed to encode YAML configuration", err)
		}
		if err := encoder.Close(); err != nil {
			return nil, errors.NewInternalError("failed to encode YAML configuration", err)
		}
		return buf.Bytes(), nil

	case FormatJSON, FormatJS:
		var buf bytes.Buffer
		if format == FormatJS {
			buf.WriteString("module.exports = ")
		}
		encoder := json.NewEncoder(&buf)
		encoder.SetEscapeHTML(false)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(config); err != nil {
			return nil, errors.NewInternalError("failed to encode JSON configuration", err)
		}
		if format == FormatJS {
			buf.Truncate(buf.Len() - 1) // drop the encoder's trailing newline
			buf.WriteString(";\n")
		}
		return buf.Bytes(), nil

	default:
		return nil, errors.NewValidationError(fmt.Sprintf("unsupported configuration format: %s", format), nil)
	}
}

// WriteConfigFile serializes configuration in the format implied by filename
func WriteConfigFile(config *EcosystemConfig, filename string) error {
	format, err := FormatFromFilename(filename)
	if err != nil {
		return err
	}

	data, err := MarshalConfig(config, format)
	if err != nil {
		return err
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return errors.NewIOError("failed to write configuration file", err).WithContext("filename", filename)
	}
	return nil
}
