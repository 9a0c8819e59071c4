// Package sigmf reads SigMF recordings (a JSON metadata sidecar paired
// with a raw IQ data file) for source playback.
package sigmf

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"time"
)

// Meta is the subset of a .sigmf-meta file this module consumes.
type Meta struct {
	Global   GlobalMeta `json:"global"`
	Captures []Capture  `json:"captures"`
}

// GlobalMeta holds the `global` object's core fields.
type GlobalMeta struct {
	DataType   string  `json:"core:datatype"`
	SampleRate float64 `json:"core:sample_rate"`
}

// Capture is one entry of the `captures` array.
type Capture struct {
	SampleStart int64   `json:"core:sample_start"`
	Frequency   float64 `json:"core:frequency"`
	DateTime    string  `json:"core:datetime,omitempty"`
}

// LoadMeta reads and parses a .sigmf-meta file.
func LoadMeta(path string) (*Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sigmf: read meta %s: %w", path, err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("sigmf: parse meta %s: %w", path, err)
	}
	if len(m.Captures) == 0 {
		m.Captures = []Capture{{SampleStart: 0, Frequency: 100e6}}
	}
	return &m, nil
}

// MetaPathFor normalizes a recording path (with or without extension, with
// either .sigmf-data or .sigmf-meta suffix) to its .sigmf-meta path.
func MetaPathFor(recordingPath string) string {
	switch {
	case strings.HasSuffix(recordingPath, ".sigmf-meta"):
		return recordingPath
	case strings.HasSuffix(recordingPath, ".sigmf-data"):
		return strings.TrimSuffix(recordingPath, ".sigmf-data") + ".sigmf-meta"
	default:
		return recordingPath + ".sigmf-meta"
	}
}

// DataPathFor derives the .sigmf-data path from a .sigmf-meta path.
func DataPathFor(metaPath string) string {
	return strings.TrimSuffix(metaPath, ".sigmf-meta") + ".sigmf-data"
}

// BytesPerSample returns the on-disk sample size for a SigMF datatype tag,
// or 0 if unrecognized. cf32=8, ci16/cu16=4, ci8/cu8=2.
func BytesPerSample(datatype string) int {
	switch normalizeDatatype(datatype) {
	case "cf32":
		return 8
	case "ci16", "cu16":
		return 4
	case "ci8", "cu8":
		return 2
	default:
		return 0
	}
}

func normalizeDatatype(datatype string) string {
	d := strings.TrimSuffix(datatype, "_le")
	d = strings.TrimSuffix(d, "_be")
	return d
}

// IsLittleEndian reports whether the datatype tag is little-endian; SigMF
// defaults to little-endian when no suffix is given.
func IsLittleEndian(datatype string) bool {
	return !strings.HasSuffix(datatype, "_be")
}

// CaptureAt returns the capture segment covering the given absolute sample
// index, and whether the index advanced into a new segment relative to
// prevIdx. Captures must be sorted by SampleStart ascending.
func CaptureAt(captures []Capture, sampleIdx int64, prevIdx int) (idx int, changed bool) {
	idx = prevIdx
	for i, c := range captures {
		if c.SampleStart <= sampleIdx {
			idx = i
		} else {
			break
		}
	}
	return idx, idx != prevIdx
}

// RecordingStart parses the first capture's core:datetime, if present.
func RecordingStart(captures []Capture) (time.Time, bool) {
	if len(captures) == 0 || captures[0].DateTime == "" {
		return time.Time{}, false
	}
	s := strings.ReplaceAll(captures[0].DateTime, "Z", "+00:00")
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Decode converts raw bytes of the given datatype into complex64 samples,
// scaling integer formats to +/-1.0 full scale.
func Decode(raw []byte, datatype string) ([]complex64, error) {
	bps := BytesPerSample(datatype)
	if bps == 0 {
		return nil, fmt.Errorf("sigmf: unsupported datatype %q", datatype)
	}
	if len(raw)%bps != 0 {
		raw = raw[:len(raw)-len(raw)%bps]
	}
	n := len(raw) / bps
	out := make([]complex64, n)
	le := IsLittleEndian(datatype)

	readU16 := func(b []byte) uint16 {
		if le {
			return uint16(b[0]) | uint16(b[1])<<8
		}
		return uint16(b[1]) | uint16(b[0])<<8
	}
	readU32 := func(b []byte) uint32 {
		if le {
			return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
		}
		return uint32(b[3]) | uint32(b[2])<<8 | uint32(b[1])<<16 | uint32(b[0])<<24
	}

	switch normalizeDatatype(datatype) {
	case "cf32":
		for i := 0; i < n; i++ {
			off := i * 8
			ib := readU32(raw[off : off+4])
			qb := readU32(raw[off+4 : off+8])
			re := math.Float32frombits(ib)
			im := math.Float32frombits(qb)
			out[i] = complex(re, im)
		}
	case "ci16":
		for i := 0; i < n; i++ {
			off := i * 4
			iv := int16(readU16(raw[off : off+2]))
			qv := int16(readU16(raw[off+2 : off+4]))
			out[i] = complex(float32(iv)/32768.0, float32(qv)/32768.0)
		}
	case "ci8":
		for i := 0; i < n; i++ {
			off := i * 2
			iv := int8(raw[off])
			qv := int8(raw[off+1])
			out[i] = complex(float32(iv)/128.0, float32(qv)/128.0)
		}
	case "cu8":
		for i := 0; i < n; i++ {
			off := i * 2
			iv := int(raw[off]) - 128
			qv := int(raw[off+1]) - 128
			out[i] = complex(float32(iv)/128.0, float32(qv)/128.0)
		}
	default:
		return nil, fmt.Errorf("sigmf: unsupported datatype %q", datatype)
	}
	return out, nil
}
