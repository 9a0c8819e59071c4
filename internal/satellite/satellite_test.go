package satellite

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func testTable() *Table {
	return New([]Entry{
		{Callsign: "cw9xyz", Name: "CWSAT-1", NORADID: 44444, Transmitter: "downlink"},
	})
}

func TestLookupExactMatchIsCaseInsensitive(t *testing.T) {
	tbl := testTable()
	e, ok := tbl.Lookup("CW9XYZ")
	if !ok || e.NORADID != 44444 {
		t.Fatalf("Lookup(CW9XYZ) = %+v, %v", e, ok)
	}
}

func TestLookupStripsSSIDSuffix(t *testing.T) {
	tbl := testTable()
	e, ok := tbl.Lookup("CW9XYZ-1")
	if !ok || e.Name != "CWSAT-1" {
		t.Fatalf("Lookup with SSID suffix = %+v, %v, want hit stripped to base callsign", e, ok)
	}
}

func TestLookupMiss(t *testing.T) {
	tbl := testTable()
	if _, ok := tbl.Lookup("NOTFOUND"); ok {
		t.Error("expected miss for unknown callsign")
	}
}

func TestLookupTrimsWhitespace(t *testing.T) {
	tbl := testTable()
	if _, ok := tbl.Lookup("  CW9XYZ  "); !ok {
		t.Error("expected whitespace-padded callsign to still match")
	}
}

func TestLoadReadsJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sats.json")
	entries := []Entry{{Callsign: "CW1ABC", Name: "Test Sat", NORADID: 1}}
	data, err := json.Marshal(entries)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	tbl, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := tbl.Lookup("CW1ABC"); !ok {
		t.Error("Lookup after Load did not find entry from file")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/sats.json"); err == nil {
		t.Error("expected error loading missing file")
	}
}
