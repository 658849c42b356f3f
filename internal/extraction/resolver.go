package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"dcops-backend/internal/models"
	"dcops-backend/internal/retry"
)

var ErrNotConfigured = errors.New("extraction provider not configured")

// ConfigurationError explains why no provider could be resolved. The message
// is written for an administrator.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return e.Message }
func (e *ConfigurationError) Unwrap() error { return ErrNotConfigured }

// ConfigStore lists stored provider configs with decrypted credentials.
type ConfigStore interface {
	ListProviderConfigs(ctx context.Context) ([]models.ProviderConfig, error)
	SelectedProviderConfigID(ctx context.Context) (*string, error)
}

// ProviderDefaults are the process-level settings for one provider.
type ProviderDefaults struct {
	APIKey  string
	Model   string
	BaseURL string
}

type Defaults struct {
	Provider  string
	Providers map[string]ProviderDefaults
}

// Resolver picks the provider for each extraction. Nothing is cached, so a
// change in stored configs applies to the next task.
type Resolver struct {
	Store      ConfigStore
	Defaults   Defaults
	HTTPClient *http.Client
	Retry      retry.Config
	Logger     *slog.Logger
}

func (r *Resolver) Resolve(ctx context.Context) (Extractor, error) {
	settings, err := r.resolveSettings(ctx)
	if err != nil {
		return nil, err
	}
	ext, err := NewExtractor(settings)
	if err != nil {
		return nil, &ConfigurationError{Message: err.Error()}
	}
	return ext, nil
}

func (r *Resolver) resolveSettings(ctx context.Context) (Settings, error) {
	var configs []models.ProviderConfig
	if r.Store != nil {
		var err error
		configs, err = r.Store.ListProviderConfigs(ctx)
		if err != nil {
			return Settings{}, &ConfigurationError{Message: fmt.Sprintf("Failed to load provider settings: %v", err)}
		}
	}

	var provider, apiKey string
	switch len(configs) {
	case 0:
		provider = NormalizeProvider(r.Defaults.Provider)
		if !IsSupportedProvider(provider) {
			return Settings{}, &ConfigurationError{Message: fmt.Sprintf("Unsupported provider %q", r.Defaults.Provider)}
		}
		apiKey = r.Defaults.Providers[provider].APIKey
	case 1:
		provider, apiKey = NormalizeProvider(configs[0].Provider), configs[0].Credential
	default:
		selected, err := r.Store.SelectedProviderConfigID(ctx)
		if err != nil {
			return Settings{}, &ConfigurationError{Message: fmt.Sprintf("Failed to load provider settings: %v", err)}
		}
		if selected == nil {
			return Settings{}, &ConfigurationError{Message: "Multiple API keys configured. Select one in provider settings."}
		}
		found := false
		for _, cfg := range configs {
			if cfg.ID == *selected {
				provider, apiKey = NormalizeProvider(cfg.Provider), cfg.Credential
				found = true
				break
			}
		}
		if !found {
			return Settings{}, &ConfigurationError{Message: "Selected API key not found. Update provider settings."}
		}
	}
	if apiKey == "" {
		return Settings{}, &ConfigurationError{Message: "Missing API key for " + provider}
	}

	def := r.Defaults.Providers[provider]
	return Settings{
		Provider:   provider,
		APIKey:     apiKey,
		Model:      def.Model,
		BaseURL:    def.BaseURL,
		HTTPClient: r.HTTPClient,
		Retry:      r.Retry,
		Logger:     r.Logger,
	}, nil
}
