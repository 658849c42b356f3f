package extraction

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"dcops-backend/internal/models"
)

// flexFloat accepts numbers, numeric strings (optionally with a trailing %)
// and null. Anything else, or a non-finite number, decodes as absent.
type flexFloat struct {
	v *float64
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	f.v = nil
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		f.set(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
		if parsed, err := strconv.ParseFloat(s, 64); err == nil {
			f.set(parsed)
		}
	}
	return nil
}

func (f *flexFloat) set(v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	f.v = &v
}

// flexString accepts strings and numbers, for asset ids that providers or
// older clients send as integers.
type flexString struct {
	v *string
}

func (f *flexString) UnmarshalJSON(data []byte) error {
	f.v = nil
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s = strings.TrimSpace(s); s != "" {
			f.v = &s
		}
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		str := n.String()
		f.v = &str
	}
	return nil
}

type replyRow struct {
	IPAddress  flexString `json:"ip_address"`
	Key        string     `json:"key"`
	Value      flexFloat  `json:"value"`
	Unit       *string    `json:"unit"`
	Confidence flexFloat  `json:"confidence"`
	DeviceID   flexString `json:"device_id"`
	VMID       flexString `json:"vm_id"`
}

type replyEnvelope struct {
	Metrics     []replyRow `json:"metrics"`
	RawText     *string    `json:"raw_text"`
	Confidence  flexFloat  `json:"confidence"`
	Status      string     `json:"status"`
	CaptureTime *string    `json:"capture_time"`
	Error       *string    `json:"error"`
}

// stripCodeFence removes a leading markdown fence such as ```json ... ```.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	body := strings.TrimPrefix(text, "```")
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	body = strings.TrimPrefix(body, "json")
	body = strings.TrimPrefix(body, "JSON")
	return strings.TrimSpace(body)
}

// firstObject decodes the first well-formed JSON object in text that looks
// like a reply envelope. A candidate must carry "metrics" or "status"; a lone
// metric row inside a truncated reply is not an envelope.
func firstObject(text string) (replyEnvelope, bool) {
	if env, ok := decodeEnvelope([]byte(text)); ok {
		return env, true
	}
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		var raw json.RawMessage
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		if err := dec.Decode(&raw); err != nil {
			continue
		}
		if env, ok := decodeEnvelope(raw); ok {
			return env, true
		}
	}
	return replyEnvelope{}, false
}

func decodeEnvelope(data []byte) (replyEnvelope, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return replyEnvelope{}, false
	}
	_, hasMetrics := fields["metrics"]
	_, hasStatus := fields["status"]
	if !hasMetrics && !hasStatus {
		return replyEnvelope{}, false
	}
	var env replyEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return replyEnvelope{}, false
	}
	return env, true
}

var captureTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

func parseCaptureTime(raw *string) *time.Time {
	if raw == nil {
		return nil
	}
	s := strings.TrimSpace(*raw)
	if s == "" {
		return nil
	}
	for _, layout := range captureTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// ParseReply converts a provider's text reply into a Result. A reply without
// any decodable JSON object yields StatusError with the cleaned text kept as
// RawText.
func ParseReply(text string) Result {
	cleaned := stripCodeFence(text)
	env, ok := firstObject(cleaned)
	if !ok {
		res := ErrorResult("provider reply did not contain a metrics payload")
		res.RawText = cleaned
		return res
	}

	res := Result{
		Metrics:     make([]models.MetricRow, 0, len(env.Metrics)),
		RawText:     cleaned,
		Status:      StatusOK,
		CaptureTime: parseCaptureTime(env.CaptureTime),
	}
	if env.RawText != nil {
		res.RawText = *env.RawText
	}
	if env.Confidence.v != nil {
		res.Confidence = *env.Confidence.v
	}
	for _, row := range env.Metrics {
		res.Metrics = append(res.Metrics, models.MetricRow{
			IPAddress:  row.IPAddress.v,
			Key:        strings.TrimSpace(row.Key),
			Value:      row.Value.v,
			Unit:       row.Unit,
			Confidence: row.Confidence.v,
			DeviceID:   row.DeviceID.v,
			VMID:       row.VMID.v,
		})
	}
	if status := strings.ToLower(strings.TrimSpace(env.Status)); status != "" && status != StatusOK {
		res.Status = StatusError
		res.Error = "provider reported an extraction failure"
	}
	if env.Error != nil && *env.Error != "" {
		res.Error = Sanitize(*env.Error)
	}
	return res
}
