package replica

import (
	"testing"

	"github.com/clusterdb/repltree/internal/replica/etc"
	"github.com/clusterdb/repltree/pkg/common"
)

func sampleMetadata() TableMetadata {
	return TableMetadata{
		DateColumn:           "date",
		SamplingExpression:   "",
		IndexGranularity:     8192,
		Mode:                 0,
		SignColumn:           "",
		PrimaryKeyExpression: "(date, id)",
		Columns: []Column{
			{Name: "date", Type: "Date"},
			{Name: "id", Type: "UInt64"},
		},
	}
}

func TestTableMetadataFormatParseRoundTrip(t *testing.T) {
	m := sampleMetadata()
	parsed, err := ParseTableMetadata(m.Format())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Equal(parsed) {
		t.Errorf("round trip mismatch:\ngot:  %q\nwant: %q", parsed.Format(), m.Format())
	}
}

// TestTableMetadataEqualDetectsSingleCharDifference covers testable
// property 4: any single-character difference must fail the comparison.
func TestTableMetadataEqualDetectsSingleCharDifference(t *testing.T) {
	a := sampleMetadata()
	b := sampleMetadata()
	b.Columns[1].Type = "UInt32" // one character different from UInt64

	if a.Equal(b) {
		t.Error("expected a single-character column type difference to fail Equal")
	}
}

func TestTableMetadataEqualDetectsColumnOrderDifference(t *testing.T) {
	a := sampleMetadata()
	b := sampleMetadata()
	b.Columns[0], b.Columns[1] = b.Columns[1], b.Columns[0]

	if a.Equal(b) {
		t.Error("expected reordered columns to fail Equal")
	}
}

func TestParseTableMetadataRejectsUnknownFormatVersion(t *testing.T) {
	if _, err := ParseTableMetadata("metadata format version: 99\n"); err == nil {
		t.Error("expected error for an unrecognized format version")
	} else if !common.IsKind(err, common.ErrTableStructureMismatch) {
		t.Errorf("expected ErrTableStructureMismatch, got %v", err)
	}
}

func TestParseTableMetadataRejectsMalformedColumnLine(t *testing.T) {
	raw := "metadata format version: 1\n" +
		"date column: date\n" +
		"sampling expression: \n" +
		"index granularity: 8192\n" +
		"mode: 0\n" +
		"sign column: \n" +
		"primary key: \n" +
		"columns:\n" +
		"not-backtick-quoted\n"
	if _, err := ParseTableMetadata(raw); err == nil {
		t.Error("expected error for a column line missing backticks")
	} else if !common.IsKind(err, common.ErrUnknownIdentifier) {
		t.Errorf("expected ErrUnknownIdentifier, got %v", err)
	}
}

func TestSchemaFromConf(t *testing.T) {
	settings := etc.ReplicaSettings{
		IndexGranularity: 8192,
		Schema: etc.SchemaConf{
			DateColumn:           "date",
			PrimaryKeyExpression: "(date, id)",
			Columns: []etc.ColumnConf{
				{Name: "date", Type: "Date"},
				{Name: "id", Type: "UInt64"},
			},
		},
	}
	m := SchemaFromConf(settings)
	if m.IndexGranularity != 8192 {
		t.Errorf("IndexGranularity = %d, want 8192 (from settings, not schema)", m.IndexGranularity)
	}
	if m.DateColumn != "date" || m.PrimaryKeyExpression != "(date, id)" {
		t.Errorf("got %+v", m)
	}
	if len(m.Columns) != 2 || m.Columns[0].Name != "date" || m.Columns[1].Name != "id" {
		t.Errorf("columns not carried over correctly: %+v", m.Columns)
	}
}
