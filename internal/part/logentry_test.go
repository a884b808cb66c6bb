package part

import "testing"

func TestLogEntryGetPartRoundTrip(t *testing.T) {
	e := LogEntry{
		Type:          KindGetPart,
		SourceReplica: "r1",
		NewPartName:   "20210102_0_0_0",
	}
	got, err := ParseLogEntry(e.Serialize())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Type != e.Type || got.SourceReplica != e.SourceReplica || got.NewPartName != e.NewPartName {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, e)
	}
}

func TestLogEntryMergePartsRoundTrip(t *testing.T) {
	e := LogEntry{
		Type:          KindMergeParts,
		SourceReplica: "r1",
		NewPartName:   "20210101_0_1_1",
		PartsToMerge:  []string{"20210101_0_0_0", "20210101_1_1_0"},
	}
	got, err := ParseLogEntry(e.Serialize())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Type != e.Type || got.SourceReplica != e.SourceReplica || got.NewPartName != e.NewPartName {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, e)
	}
	if len(got.PartsToMerge) != len(e.PartsToMerge) {
		t.Fatalf("got %d parts to merge, want %d", len(got.PartsToMerge), len(e.PartsToMerge))
	}
	for i := range e.PartsToMerge {
		if got.PartsToMerge[i] != e.PartsToMerge[i] {
			t.Errorf("parts_to_merge[%d] = %q, want %q", i, got.PartsToMerge[i], e.PartsToMerge[i])
		}
	}
}

func TestParseLogEntryRejectsUnknownKind(t *testing.T) {
	raw := "format version: 1\nsource replica: r1\nbogus\nfoo\n\n"
	if _, err := ParseLogEntry([]byte(raw)); err == nil {
		t.Error("expected error for an unknown log entry kind")
	}
}

func TestParseLogEntryRejectsUnknownFormatVersion(t *testing.T) {
	raw := "format version: 99\nsource replica: r1\nget\n20210101_0_0_0\n\n"
	if _, err := ParseLogEntry([]byte(raw)); err == nil {
		t.Error("expected error for an unrecognized format version")
	}
}

func TestParseLogEntryRejectsMalformedMerge(t *testing.T) {
	raw := "format version: 1\nsource replica: r1\nmerge\n20210101_0_0_0\n20210101_1_1_0\n\n"
	if _, err := ParseLogEntry([]byte(raw)); err == nil {
		t.Error("expected error for a merge entry missing its \"into\" marker")
	}
}
