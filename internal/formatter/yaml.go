package formatter

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/harunnryd/sdd/internal/resource"
	"github.com/harunnryd/sdd/internal/sandbox"
)

type YAMLFormatter struct{}

func NewYAMLFormatter() *YAMLFormatter {
	return &YAMLFormatter{}
}

func (f *YAMLFormatter) FormatUsage(u resource.Usages) (string, error) {
	return marshalYAML(u)
}

func (f *YAMLFormatter) FormatContainerUsage(id string, u resource.ContainerUsage) (string, error) {
	return marshalYAML(containerUsage{ID: id, CPU: u.CPU, Memory: u.Memory})
}

func (f *YAMLFormatter) FormatEntries(path string, entries []sandbox.DirEntry) (string, error) {
	if entries == nil {
		entries = []sandbox.DirEntry{}
	}
	return marshalYAML(entries)
}

func marshalYAML(v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
