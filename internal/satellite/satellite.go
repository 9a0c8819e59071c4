// Package satellite implements the static callsign-to-satellite lookup
// (C10) used by decoder packet metadata: a callsign observed in a
// decoded frame is resolved to the satellite/transmitter that most
// likely sent it.
//
// The table is a flat JSON file keyed by callsign, with an
// SSID-suffix-stripping retry when the exact key misses.
package satellite

import (
	"encoding/json"
	"os"
	"strings"
)

// Entry describes one known satellite transmitter.
type Entry struct {
	Callsign    string `json:"callsign"`
	Name        string `json:"name"`
	NORADID     int    `json:"norad_id"`
	Transmitter string `json:"transmitter,omitempty"`
}

// Table is an in-memory callsign lookup, safe for concurrent reads
// (it is built once at load time and never mutated).
type Table struct {
	byCallsign map[string]Entry
}

// Load reads a JSON array of Entry from path.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return New(entries), nil
}

// New builds a table from an in-memory entry list (tests, or an
// embedded default set).
func New(entries []Entry) *Table {
	t := &Table{byCallsign: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		t.byCallsign[strings.ToUpper(e.Callsign)] = e
	}
	return t
}

// Lookup resolves a callsign exactly, then — on miss — retries with
// an AX.25 SSID suffix ("-0" through "-9") stripped — satellite
// downlinks are sometimes cataloged without the SSID a deframer
// recovers.
func (t *Table) Lookup(callsign string) (Entry, bool) {
	key := strings.ToUpper(strings.TrimSpace(callsign))
	if e, ok := t.byCallsign[key]; ok {
		return e, true
	}
	if idx := strings.LastIndexByte(key, '-'); idx > 0 {
		suffix := key[idx+1:]
		if len(suffix) == 1 && suffix[0] >= '0' && suffix[0] <= '9' {
			if e, ok := t.byCallsign[key[:idx]]; ok {
				return e, true
			}
		}
	}
	return Entry{}, false
}
