package extraction

import "testing"

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"openai key", "bad key sk-ABCDEFGHIJKLMNOPWXYZ", "bad key ***WXYZ"},
		{"project key", "sk-proj-abcdefghijklmnop1234 failed", "***1234 failed"},
		{"anthropic key", "sk-ant-REDACTED", "***QRST"},
		{"google key", "key AIzaSyABCDEFGHIJ9876 invalid", "key ***9876 invalid"},
		{"env name", "OPENAI_SECRETVALUE leaked", "***ALUE leaked"},
		{"incorrect key", "Incorrect API key provided: abc123xyz, check it", "Incorrect API key provided: ***3xyz, check it"},
		{"incorrect openai key", "Incorrect API key provided: sk-ABCDEFGHIJKLMNOPWXYZ.", "Incorrect API key provided: ***WXYZ."},
		{"json field", `{"api_key": "plainsecret99"}`, `{"api_key": "***et99"}`},
		{"assignment", "api-key=abcdefgh12345678", "api-key=***5678"},
		{"nothing", "connection refused", "connection refused"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Fatalf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
