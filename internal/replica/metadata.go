package replica

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/clusterdb/repltree/internal/replica/etc"
	"github.com/clusterdb/repltree/pkg/common"
)

// Column is one (name, type) pair in a table's schema.
type Column struct {
	Name string
	Type string
}

// TableMetadata is the in-memory form of the /metadata text blob (spec.md
// §6). Grounded on original_source's StorageReplicatedMergeTree
// constructor / checkTableStructure, which requires exact byte equality
// on reopen.
type TableMetadata struct {
	DateColumn          string
	SamplingExpression  string // formatted AST text, empty if none
	IndexGranularity    int64
	Mode                int
	SignColumn          string
	PrimaryKeyExpression string // formatted AST text
	Columns             []Column
}

const metadataFormatVersion = "metadata format version: 1"

// SchemaFromConf builds a TableMetadata from a replica config's embedded
// schema, filling IndexGranularity from the replica's own setting since
// every replica of a table must already agree on it.
func SchemaFromConf(s etc.ReplicaSettings) TableMetadata {
	m := TableMetadata{
		DateColumn:           s.Schema.DateColumn,
		SamplingExpression:   s.Schema.SamplingExpression,
		IndexGranularity:     s.IndexGranularity,
		Mode:                 s.Schema.Mode,
		SignColumn:           s.Schema.SignColumn,
		PrimaryKeyExpression: s.Schema.PrimaryKeyExpression,
	}
	for _, c := range s.Schema.Columns {
		m.Columns = append(m.Columns, Column{Name: c.Name, Type: c.Type})
	}
	return m
}

// Format renders m in the exact text format of spec.md §6. Byte-for-byte
// equality of this output across restarts is the invariant checkTableStructure
// enforces.
func (m TableMetadata) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", metadataFormatVersion)
	fmt.Fprintf(&b, "date column: %s\n", m.DateColumn)
	fmt.Fprintf(&b, "sampling expression: %s\n", m.SamplingExpression)
	fmt.Fprintf(&b, "index granularity: %d\n", m.IndexGranularity)
	fmt.Fprintf(&b, "mode: %d\n", m.Mode)
	fmt.Fprintf(&b, "sign column: %s\n", m.SignColumn)
	fmt.Fprintf(&b, "primary key: %s\n", m.PrimaryKeyExpression)
	b.WriteString("columns:\n")
	for _, c := range m.Columns {
		fmt.Fprintf(&b, "`%s` %s\n", c.Name, c.Type)
	}
	return b.String()
}

// Equal reports byte-exact equality of the serialized forms (spec.md §8
// invariant 4: "for any single-character difference... it fails").
func (m TableMetadata) Equal(other TableMetadata) bool {
	return m.Format() == other.Format()
}

// ParseTableMetadata parses the text written by Format. Any structural
// divergence is reported as ErrUnknownIdentifier / ErrTableStructureMismatch
// per spec.md §4.1.
func ParseTableMetadata(text string) (TableMetadata, error) {
	sc := bufio.NewScanner(strings.NewReader(text))
	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if len(lines) < 7 || lines[0] != metadataFormatVersion {
		return TableMetadata{}, common.NewErr(common.ErrTableStructureMismatch, "unrecognized metadata format")
	}

	m := TableMetadata{}
	get := func(line, prefix string) (string, error) {
		if !strings.HasPrefix(line, prefix) {
			return "", common.NewErr(common.ErrTableStructureMismatch, "expected line prefixed %q, got %q", prefix, line)
		}
		return strings.TrimPrefix(line, prefix), nil
	}

	var err error
	if m.DateColumn, err = get(lines[1], "date column: "); err != nil {
		return TableMetadata{}, err
	}
	if m.SamplingExpression, err = get(lines[2], "sampling expression: "); err != nil {
		return TableMetadata{}, err
	}
	granText, err := get(lines[3], "index granularity: ")
	if err != nil {
		return TableMetadata{}, err
	}
	if m.IndexGranularity, err = strconv.ParseInt(granText, 10, 64); err != nil {
		return TableMetadata{}, common.NewErr(common.ErrTableStructureMismatch, "invalid index granularity: %v", err)
	}
	modeText, err := get(lines[4], "mode: ")
	if err != nil {
		return TableMetadata{}, err
	}
	mode64, err := strconv.ParseInt(modeText, 10, 64)
	if err != nil {
		return TableMetadata{}, common.NewErr(common.ErrTableStructureMismatch, "invalid mode: %v", err)
	}
	m.Mode = int(mode64)
	if m.SignColumn, err = get(lines[5], "sign column: "); err != nil {
		return TableMetadata{}, err
	}
	if m.PrimaryKeyExpression, err = get(lines[6], "primary key: "); err != nil {
		return TableMetadata{}, err
	}
	if len(lines) < 8 || lines[7] != "columns:" {
		return TableMetadata{}, common.NewErr(common.ErrTableStructureMismatch, "expected \"columns:\" header")
	}
	for _, line := range lines[8:] {
		if line == "" {
			continue
		}
		end := strings.IndexByte(line[1:], '`')
		if line[0] != '`' || end < 0 {
			return TableMetadata{}, common.NewErr(common.ErrUnknownIdentifier, "malformed column line: %q", line)
		}
		name := line[1 : end+1]
		typ := strings.TrimSpace(line[end+3:])
		m.Columns = append(m.Columns, Column{Name: name, Type: typ})
	}
	return m, nil
}
