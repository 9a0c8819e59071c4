package decoder

import "strings"

// AX25HeaderParser extracts the destination/source callsign-SSID pair
// from a standard AX.25 UI frame header (7 bytes dest + 7 bytes src,
// each a shifted-ASCII callsign padded to 6 chars plus an SSID byte).
// It is the TelemetryParser the packet pipeline's AX.25 backfill path
// falls back to: when a deframer's own callsign extraction comes back
// empty, the pipeline re-derives {from, to} from here.
type AX25HeaderParser struct{}

const ax25MinHeaderLen = 14

func (AX25HeaderParser) Parse(payload []byte, protocolHint, satHint string) TelemetryResult {
	if len(payload) < ax25MinHeaderLen {
		return TelemetryResult{Parser: "ax25"}
	}
	dst := decodeAX25Callsign(payload[0:7])
	src := decodeAX25Callsign(payload[7:14])
	if dst == "" || src == "" {
		return TelemetryResult{Parser: "ax25"}
	}
	return TelemetryResult{
		Success:  true,
		Parser:   "ax25",
		AX25From: src,
		AX25To:   dst,
		Fields:   map[string]any{"from": src, "to": dst},
	}
}

// decodeAX25Callsign unshifts a 7-byte AX.25 address field (6 bytes of
// callsign left-shifted by one bit, space-padded, plus an SSID byte
// whose bits 1-4 hold the SSID) into "CALL-SSID" form.
func decodeAX25Callsign(field []byte) string {
	var sb strings.Builder
	for i := 0; i < 6; i++ {
		c := field[i] >> 1
		if c == ' ' || c == 0 {
			continue
		}
		sb.WriteByte(c)
	}
	if sb.Len() == 0 {
		return ""
	}
	ssid := (field[6] >> 1) & 0x0F
	if ssid == 0 {
		return sb.String()
	}
	return sb.String() + "-" + itoaSmall(int(ssid))
}

func itoaSmall(n int) string {
	if n < 10 {
		return string(rune('0' + n))
	}
	return string(rune('0'+n/10)) + string(rune('0'+n%10))
}
