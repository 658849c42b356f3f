package extraction

import (
	"testing"
)

func TestParseReplyPlainJSON(t *testing.T) {
	res := ParseReply(`{"metrics":[{"ip_address":"10.0.1.11","key":"cpu_util","value":91.5,"unit":"%","confidence":0.9}],"raw_text":"CPU 91.5%","confidence":0.8,"status":"ok","capture_time":"2026-03-01T10:00:00Z"}`)
	if !res.OK() {
		t.Fatalf("expected ok result, got %+v", res)
	}
	if len(res.Metrics) != 1 {
		t.Fatalf("expected one metric, got %d", len(res.Metrics))
	}
	row := res.Metrics[0]
	if row.Key != "cpu_util" || row.Value == nil || *row.Value != 91.5 {
		t.Fatalf("unexpected row: %+v", row)
	}
	if row.IPAddress == nil || *row.IPAddress != "10.0.1.11" {
		t.Fatalf("unexpected ip: %v", row.IPAddress)
	}
	if res.RawText != "CPU 91.5%" || res.Confidence != 0.8 {
		t.Fatalf("unexpected raw text or confidence: %q %v", res.RawText, res.Confidence)
	}
	if res.CaptureTime == nil || res.CaptureTime.Hour() != 10 {
		t.Fatalf("unexpected capture time: %v", res.CaptureTime)
	}
}

func TestParseReplyCodeFence(t *testing.T) {
	res := ParseReply("```json\n{\"metrics\":[{\"key\":\"ram_util\",\"value\":\"73%\"}]}\n```")
	if !res.OK() {
		t.Fatalf("expected ok result, got %+v", res)
	}
	if len(res.Metrics) != 1 || res.Metrics[0].Value == nil || *res.Metrics[0].Value != 73 {
		t.Fatalf("unexpected metrics: %+v", res.Metrics)
	}
}

func TestParseReplyProseAroundObject(t *testing.T) {
	res := ParseReply(`Here is what I found {not json} and then {"metrics":[{"key":"disk_util","value":12}],"status":"ok"} hope it helps.`)
	if !res.OK() {
		t.Fatalf("expected ok result, got %+v", res)
	}
	if len(res.Metrics) != 1 || res.Metrics[0].Key != "disk_util" {
		t.Fatalf("unexpected metrics: %+v", res.Metrics)
	}
}

func TestParseReplyWithoutJSON(t *testing.T) {
	res := ParseReply("I cannot read this dashboard.")
	if res.OK() {
		t.Fatalf("expected error result")
	}
	if res.RawText != "I cannot read this dashboard." {
		t.Fatalf("expected raw text preserved, got %q", res.RawText)
	}
	if len(res.Metrics) != 0 {
		t.Fatalf("expected no metrics")
	}
}

func TestParseReplyTruncatedPayload(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"cut after first row", `Here you go: {"metrics":[{"ip_address":"10.0.0.5","key":"cpu_util","value":95,"unit":"%"},{"key":"ram_util","val`},
		{"cut inside fence", "```json\n{\"metrics\":[{\"key\":\"disk_util\",\"value\":40}"},
		{"object without envelope keys", `{"key":"cpu_util","value":95}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ParseReply(tt.reply)
			if res.OK() {
				t.Fatalf("expected error result, got %+v", res)
			}
			if len(res.Metrics) != 0 {
				t.Fatalf("expected no metrics, got %+v", res.Metrics)
			}
			if res.Error == "" {
				t.Fatalf("expected an error message")
			}
		})
	}
}

func TestParseReplyNullValueStaysNull(t *testing.T) {
	res := ParseReply(`{"metrics":[{"key":"net_in","value":null},{"key":"net_out","value":"n/a"}]}`)
	for _, row := range res.Metrics {
		if row.Value != nil {
			t.Fatalf("expected nil value for %s, got %v", row.Key, *row.Value)
		}
	}
}

func TestParseReplyProviderStatusError(t *testing.T) {
	res := ParseReply(`{"metrics":[],"status":"error","error":"api_key=abcdefgh12345678 rejected"}`)
	if res.OK() {
		t.Fatalf("expected error status")
	}
	if res.Error != "api_key=***5678 rejected" {
		t.Fatalf("expected sanitized error, got %q", res.Error)
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := map[string]string{
		"```json\n{}\n```": "{}",
		"```\n{}\n```":     "{}",
		"  {}  ":           "{}",
	}
	for in, want := range cases {
		if got := stripCodeFence(in); got != want {
			t.Fatalf("stripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}
