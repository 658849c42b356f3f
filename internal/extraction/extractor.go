package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"dcops-backend/internal/models"
	"dcops-backend/internal/retry"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Provider names as stored in provider configs.
const (
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
)

var ErrUnsupportedProvider = errors.New("unsupported provider")

// Image is the screenshot handed to a provider.
type Image struct {
	Name     string
	MimeType string
	Data     []byte
}

// Result is the outcome of one extraction. Status is StatusOK or StatusError;
// Error is already scrubbed of credentials.
type Result struct {
	Metrics     []models.MetricRow
	RawText     string
	Confidence  float64
	Status      string
	CaptureTime *time.Time
	Error       string
}

func (r Result) OK() bool {
	return r.Status == StatusOK
}

// ErrorResult builds a terminal failure result with a sanitized message.
func ErrorResult(message string) Result {
	return Result{
		Metrics: []models.MetricRow{},
		Status:  StatusError,
		Error:   Sanitize(message),
	}
}

// Extractor turns a dashboard screenshot into metric rows. Ordinary failures
// (bad credentials, timeouts, unparsable replies) come back as a Result with
// StatusError, never as a Go error.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, img Image) Result
}

type Settings struct {
	Provider   string
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Retry      retry.Config
	Logger     *slog.Logger
}

// NormalizeProvider lower-cases a provider name and folds aliases.
func NormalizeProvider(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "anthropic" {
		return ProviderClaude
	}
	return name
}

func IsSupportedProvider(name string) bool {
	switch NormalizeProvider(name) {
	case ProviderOpenAI, ProviderClaude, ProviderGemini:
		return true
	}
	return false
}

func NewExtractor(s Settings) (Extractor, error) {
	if s.HTTPClient == nil {
		s.HTTPClient = &http.Client{}
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	if s.Retry.MaxAttempts == 0 {
		s.Retry = retry.DefaultConfig()
	}
	switch NormalizeProvider(s.Provider) {
	case ProviderOpenAI:
		return newOpenAI(s), nil
	case ProviderClaude:
		return newAnthropic(s), nil
	case ProviderGemini:
		return newGemini(s), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedProvider, s.Provider)
	}
}
