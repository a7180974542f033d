package logger

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorEntry is one link of an error chain: its own message plus any
// structured metadata attached at that level.
type ErrorEntry struct {
	Message  string
	Metadata map[string]any
}

// metadater describes an error that carries structured metadata.
// This matches the Metadata() method provided by zerr.Error.
type metadater interface {
	Metadata() map[string]any
}

// collectErrorEntries flattens an error chain into entries, outermost
// first. zerr errors contribute their own message and metadata per link;
// a standard error terminates the chain with its full message and nil
// metadata. Adjacent links with the same message (zerr.With layers) are
// merged into a single entry.
func collectErrorEntries(err error) []ErrorEntry {
	var entries []ErrorEntry

	current := err
	for current != nil {
		m, ok := current.(messager)
		if !ok {
			entries = append(entries, ErrorEntry{Message: current.Error()})
			break
		}

		entry := ErrorEntry{Message: m.Message(), Metadata: map[string]any{}}
		if md, hasMeta := current.(metadater); hasMeta {
			for k, v := range md.Metadata() {
				entry.Metadata[k] = v
			}
		}

		if n := len(entries); n > 0 && entries[n-1].Message == entry.Message {
			for k, v := range entry.Metadata {
				if _, exists := entries[n-1].Metadata[k]; !exists {
					entries[n-1].Metadata[k] = v
				}
			}
		} else {
			entries = append(entries, entry)
		}

		current = errors.Unwrap(current)
	}

	return entries
}

// formatErrorEntries renders collected entries hierarchically: the main
// error first, then its causes indented under a "Caused by:" header, with
// metadata lines sorted by key.
func formatErrorEntries(entries []ErrorEntry) string {
	if len(entries) == 0 {
		return ""
	}

	var lines []string

	for i, entry := range entries {
		msgLines := strings.Split(entry.Message, "\n")

		if i == 0 {
			lines = append(lines, "Error: "+msgLines[0])
			for _, line := range msgLines[1:] {
				lines = append(lines, "       "+line)
			}
			lines = append(lines, metadataLines(entry.Metadata, "       ")...)
			continue
		}

		if i == 1 {
			lines = append(lines, "", "  Caused by:")
		}
		lines = append(lines, "    → "+msgLines[0])
		for _, line := range msgLines[1:] {
			lines = append(lines, "      "+line)
		}
		lines = append(lines, metadataLines(entry.Metadata, "      ")...)
	}

	return strings.Join(lines, "\n")
}

func metadataLines(metadata map[string]any, indent string) []string {
	if len(metadata) == 0 {
		return nil
	}

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s%s: %v", indent, k, metadata[k]))
	}
	return out
}
