package formatter

import (
	"encoding/json"

	"github.com/harunnryd/sdd/internal/resource"
	"github.com/harunnryd/sdd/internal/sandbox"
)

type JSONFormatter struct{}

func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

func (f *JSONFormatter) FormatUsage(u resource.Usages) (string, error) {
	return marshalJSON(u)
}

func (f *JSONFormatter) FormatContainerUsage(id string, u resource.ContainerUsage) (string, error) {
	return marshalJSON(containerUsage{ID: id, CPU: u.CPU, Memory: u.Memory})
}

// FormatEntries emits the same [{name,type}] array the HTTP API serves.
func (f *JSONFormatter) FormatEntries(path string, entries []sandbox.DirEntry) (string, error) {
	if entries == nil {
		entries = []sandbox.DirEntry{}
	}
	return marshalJSON(entries)
}

func marshalJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
