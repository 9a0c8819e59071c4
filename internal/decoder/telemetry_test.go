package decoder

import "testing"

// encodeAX25Address builds a 7-byte AX.25 address field for callsign
// (padded/truncated to 6 chars) and ssid, inverse of decodeAX25Callsign.
func encodeAX25Address(callsign string, ssid int) []byte {
	field := make([]byte, 7)
	padded := (callsign + "      ")[:6]
	for i := 0; i < 6; i++ {
		field[i] = padded[i] << 1
	}
	field[6] = byte(ssid) << 1
	return field
}

func TestAX25HeaderParserDecodesDestAndSrc(t *testing.T) {
	payload := append(encodeAX25Address("CQ", 0), encodeAX25Address("CW9XYZ", 1)...)
	result := AX25HeaderParser{}.Parse(payload, "", "")
	if !result.Success {
		t.Fatalf("expected successful parse, got %+v", result)
	}
	if result.AX25To != "CQ" {
		t.Errorf("AX25To = %q, want CQ", result.AX25To)
	}
	if result.AX25From != "CW9XYZ-1" {
		t.Errorf("AX25From = %q, want CW9XYZ-1", result.AX25From)
	}
}

func TestAX25HeaderParserShortPayloadFails(t *testing.T) {
	result := AX25HeaderParser{}.Parse([]byte{1, 2, 3}, "", "")
	if result.Success {
		t.Error("expected failure for payload shorter than a full header")
	}
	if result.Parser != "ax25" {
		t.Errorf("Parser = %q, want ax25 even on failure", result.Parser)
	}
}

func TestAX25HeaderParserEmptyCallsignFails(t *testing.T) {
	payload := append(encodeAX25Address("", 0), encodeAX25Address("", 0)...)
	result := AX25HeaderParser{}.Parse(payload, "", "")
	if result.Success {
		t.Error("expected failure for blank callsign fields")
	}
}

func TestDecodeAX25CallsignNoSSID(t *testing.T) {
	field := encodeAX25Address("NOCALL", 0)
	got := decodeAX25Callsign(field)
	if got != "NOCALL" {
		t.Errorf("decodeAX25Callsign = %q, want NOCALL", got)
	}
}

func TestItoaSmall(t *testing.T) {
	cases := map[int]string{0: "0", 5: "5", 9: "9", 10: "10", 15: "15"}
	for n, want := range cases {
		if got := itoaSmall(n); got != want {
			t.Errorf("itoaSmall(%d) = %q, want %q", n, got, want)
		}
	}
}
