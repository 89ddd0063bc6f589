package sandbox

import "strings"

type EntryKind string

const (
	KindDirectory  EntryKind = "directory"
	KindFile       EntryKind = "file"
	KindExecutable EntryKind = "executable"
	KindSymlink    EntryKind = "symlink"
	KindSocket     EntryKind = "sock"
	KindOther      EntryKind = "other"
)

type DirEntry struct {
	Name string    `json:"name" yaml:"name"`
	Kind EntryKind `json:"type" yaml:"type"`
}

// ClassifyLine maps an `ls -F` line onto an entry. The indicator is removed
// from the name; plain files carry none.
func ClassifyLine(line string) DirEntry {
	if line == "" {
		return DirEntry{Kind: KindFile}
	}

	var kind EntryKind
	switch line[len(line)-1] {
	case '/':
		kind = KindDirectory
	case '*':
		kind = KindExecutable
	case '@':
		kind = KindSymlink
	case '=':
		kind = KindSocket
	case '%', '|':
		kind = KindOther
	default:
		return DirEntry{Name: line, Kind: KindFile}
	}
	return DirEntry{Name: line[:len(line)-1], Kind: kind}
}

// Classify converts raw listing output, one entry per line, preserving order.
func Classify(lines []string) []DirEntry {
	entries := make([]DirEntry, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		entries = append(entries, ClassifyLine(line))
	}
	return entries
}

func splitListing(out []byte) []string {
	return strings.Split(strings.TrimRight(string(out), "\n"), "\n")
}
