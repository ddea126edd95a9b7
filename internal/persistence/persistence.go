// Package persistence exports a parsed torrc to JSON or YAML, either to a
// file or to a stream.
package persistence

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/andrej220/torito/pkg/torrc"
	"gopkg.in/yaml.v3"
)

const (
	indent = "    " // Default indentation for JSON output (4 spaces)
	prefix = ""     // Default prefix for JSON output
)

type Serializer interface {
	Marshal(data any) ([]byte, error)
}

type Writer interface {
	Write(filename string, data []byte) error
}

type JSONSerializer struct {
	Prefix, Indent string
}

func (s JSONSerializer) Marshal(data any) ([]byte, error) {
	b, err := json.MarshalIndent(data, s.Prefix, s.Indent)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

type YAMLSerializer struct{}

func (YAMLSerializer) Marshal(data any) ([]byte, error) {
	return yaml.Marshal(data)
}

// SerializerFor returns the serializer for "json" or "yaml".
func SerializerFor(format string) (Serializer, error) {
	switch format {
	case "", "json":
		return JSONSerializer{Prefix: prefix, Indent: indent}, nil
	case "yaml", "yml":
		return YAMLSerializer{}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// FileWriter writes with 0600 permissions since exports may hold proxy credentials.
type FileWriter struct {
	Overwrite bool
}

func (w FileWriter) Write(filename string, data []byte) error {
	if filename == "" {
		return os.ErrInvalid
	}
	if _, err := os.Stat(filename); !os.IsNotExist(err) && !w.Overwrite {
		return os.ErrExist
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0600)
}

// StreamWriter ignores the filename and writes to W.
type StreamWriter struct {
	W io.Writer
}

func (w StreamWriter) Write(_ string, data []byte) error {
	_, err := w.W.Write(data)
	return err
}

// Export serializes cfg and hands it to writer under filename.
func Export(cfg *torrc.Config, filename string, serializer Serializer, writer Writer) error {
	if cfg == nil {
		return fmt.Errorf("export: %w", torrc.ErrInvalidConfig)
	}
	if filename == "" {
		return fmt.Errorf("invalid filename: %w", os.ErrInvalid)
	}

	bytes, err := serializer.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := writer.Write(filename, bytes); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}
