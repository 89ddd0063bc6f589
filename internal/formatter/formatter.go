// Package formatter renders CLI output as a table, JSON or YAML.
package formatter

import (
	"fmt"
	"strings"

	"github.com/harunnryd/sdd/internal/resource"
	"github.com/harunnryd/sdd/internal/sandbox"
)

type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatYAML  OutputFormat = "yaml"
)

type Formatter interface {
	FormatUsage(resource.Usages) (string, error)
	FormatContainerUsage(id string, u resource.ContainerUsage) (string, error)
	FormatEntries(path string, entries []sandbox.DirEntry) (string, error)
}

func New(format OutputFormat) (Formatter, error) {
	switch format {
	case OutputFormatTable:
		return NewTableFormatter(), nil
	case OutputFormatJSON:
		return NewJSONFormatter(), nil
	case OutputFormatYAML:
		return NewYAMLFormatter(), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: table, json, yaml)", format)
	}
}

func ParseOutputFormat(s string) (OutputFormat, error) {
	format := OutputFormat(strings.ToLower(strings.TrimSpace(s)))
	switch format {
	case OutputFormatTable, OutputFormatJSON, OutputFormatYAML:
		return format, nil
	default:
		return "", fmt.Errorf("invalid output format: %s (supported: table, json, yaml)", s)
	}
}

// containerUsage pairs a sample with its container for structured output.
type containerUsage struct {
	ID     string  `json:"id" yaml:"id"`
	CPU    float64 `json:"cpu" yaml:"cpu"`
	Memory float64 `json:"memory" yaml:"memory"`
}
