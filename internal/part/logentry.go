package part

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/clusterdb/repltree/pkg/common"
)

// Kind distinguishes the two log entry shapes of spec.md §3.
type Kind string

const (
	KindGetPart     Kind = "GET_PART"
	KindMergeParts  Kind = "MERGE_PARTS"
)

// LogEntry is named after, but functionally disjoint from, the teacher's
// raft.LogEntry (a consensus log record carrying a Term and a Command):
// this one is a replication action record, never voted on, never subject
// to a term. Same idiom, different payload — see DESIGN.md.
type LogEntry struct {
	Type          Kind
	SourceReplica string
	NewPartName   string
	PartsToMerge  []string // ordered, MERGE_PARTS only

	// ZnodeName is set once the entry is enqueued: the coordinator-
	// assigned sequential child name used to remove it on completion.
	// It is never part of the serialized text form.
	ZnodeName string
}

const logFormatVersion = "format version: 1"

// Serialize renders e in the exact text format of spec.md §6. The format
// is a wire contract: every byte here is load-bearing, not cosmetic.
func (e LogEntry) Serialize() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", logFormatVersion)
	fmt.Fprintf(&b, "source replica: %s\n", e.SourceReplica)
	switch e.Type {
	case KindGetPart:
		b.WriteString("get\n")
		fmt.Fprintf(&b, "%s\n", e.NewPartName)
	case KindMergeParts:
		b.WriteString("merge\n")
		for _, src := range e.PartsToMerge {
			fmt.Fprintf(&b, "%s\n", src)
		}
		b.WriteString("into\n")
		fmt.Fprintf(&b, "%s\n", e.NewPartName)
	}
	b.WriteString("\n")
	return []byte(b.String())
}

// ParseLogEntry parses the text format of spec.md §6, rejecting unknown
// kinds as the spec requires.
func ParseLogEntry(data []byte) (LogEntry, error) {
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) < 3 {
		return LogEntry{}, common.NewErr(common.ErrUnknownIdentifier, "log entry too short")
	}
	if lines[0] != logFormatVersion {
		return LogEntry{}, common.NewErr(common.ErrUnknownIdentifier, "unknown log entry format: %q", lines[0])
	}
	const srcPrefix = "source replica: "
	if !strings.HasPrefix(lines[1], srcPrefix) {
		return LogEntry{}, common.NewErr(common.ErrUnknownIdentifier, "malformed source replica line: %q", lines[1])
	}
	source := strings.TrimPrefix(lines[1], srcPrefix)

	kind := lines[2]
	rest := lines[3:]
	// trailing blank line terminator, if present, is not payload.
	if len(rest) > 0 && rest[len(rest)-1] == "" {
		rest = rest[:len(rest)-1]
	}

	switch kind {
	case "get":
		if len(rest) != 1 {
			return LogEntry{}, common.NewErr(common.ErrUnknownIdentifier, "get entry expects one payload line, got %d", len(rest))
		}
		return LogEntry{Type: KindGetPart, SourceReplica: source, NewPartName: rest[0]}, nil
	case "merge":
		intoIdx := -1
		for i, l := range rest {
			if l == "into" {
				intoIdx = i
				break
			}
		}
		if intoIdx < 0 || intoIdx+2 != len(rest) {
			return LogEntry{}, common.NewErr(common.ErrUnknownIdentifier, "malformed merge entry")
		}
		return LogEntry{
			Type:          KindMergeParts,
			SourceReplica: source,
			PartsToMerge:  append([]string(nil), rest[:intoIdx]...),
			NewPartName:   rest[intoIdx+1],
		}, nil
	default:
		return LogEntry{}, common.NewErr(common.ErrUnknownIdentifier, "unknown log entry kind: %q", kind)
	}
}
