package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"dcops-backend/internal/crypto"
	"dcops-backend/internal/extraction"
	"dcops-backend/internal/models"
	"dcops-backend/internal/storage"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("provider config not found")
)

type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateProviderConfig(ctx context.Context, rec models.ProviderConfig) (models.ProviderConfig, error)
	GetProviderConfig(ctx context.Context, id string) (models.ProviderConfig, error)
	ListProviderConfigs(ctx context.Context) ([]models.ProviderConfig, error)
	UpdateProviderConfig(ctx context.Context, rec models.ProviderConfig) error
	DeleteProviderConfig(ctx context.Context, id string) error
	SelectedProviderConfigID(ctx context.Context) (*string, error)
	SetSelectedProviderConfig(ctx context.Context, id *string) error
}

// Service owns extraction provider credentials. It encrypts on write,
// decrypts for the resolver, and only ever exposes masked keys to callers.
type Service struct {
	Store     Store
	Encryptor crypto.Encryptor
}

type ConfigView struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	Label     *string   `json:"label"`
	MaskedKey string    `json:"masked_key"`
	Selected  bool      `json:"selected"`
	CreatedAt time.Time `json:"created_at"`
}

type Overview struct {
	Configs           []ConfigView `json:"configs"`
	SelectedID        *string      `json:"selected_id"`
	RequiresSelection bool         `json:"requires_selection"`
}

func (s *Service) Overview(ctx context.Context) (Overview, error) {
	configs, err := s.ListProviderConfigs(ctx)
	if err != nil {
		return Overview{}, err
	}
	selected, err := s.Store.SelectedProviderConfigID(ctx)
	if err != nil {
		return Overview{}, err
	}
	out := Overview{Configs: []ConfigView{}, SelectedID: selected}
	for _, cfg := range configs {
		out.Configs = append(out.Configs, ConfigView{
			ID:        cfg.ID,
			Provider:  cfg.Provider,
			Label:     cfg.Label,
			MaskedKey: crypto.Mask(cfg.Credential),
			Selected:  selected != nil && *selected == cfg.ID,
			CreatedAt: cfg.CreatedAt,
		})
	}
	out.RequiresSelection = len(configs) > 1 && selected == nil
	return out, nil
}

// ListProviderConfigs returns stored configs with plaintext credentials.
func (s *Service) ListProviderConfigs(ctx context.Context) ([]models.ProviderConfig, error) {
	configs, err := s.Store.ListProviderConfigs(ctx)
	if err != nil {
		return nil, err
	}
	for i := range configs {
		plain, err := s.Encryptor.Decrypt(configs[i].Credential)
		if err != nil {
			return nil, fmt.Errorf("decrypt provider config %s: %w", configs[i].ID, err)
		}
		configs[i].Credential = plain
	}
	return configs, nil
}

func (s *Service) SelectedProviderConfigID(ctx context.Context) (*string, error) {
	return s.Store.SelectedProviderConfigID(ctx)
}

// Add stores a new credential. The first credential becomes the selection.
func (s *Service) Add(ctx context.Context, provider string, label *string, credential string) (ConfigView, error) {
	provider = extraction.NormalizeProvider(provider)
	if !extraction.IsSupportedProvider(provider) {
		return ConfigView{}, fmt.Errorf("%w: provider must be one of openai, claude, gemini", ErrInvalidInput)
	}
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return ConfigView{}, fmt.Errorf("%w: credential is required", ErrInvalidInput)
	}
	sealed, err := s.Encryptor.Encrypt(credential)
	if err != nil {
		return ConfigView{}, err
	}
	var created models.ProviderConfig
	var selected bool
	err = s.Store.InTx(ctx, func(ctx context.Context) error {
		existing, err := s.Store.ListProviderConfigs(ctx)
		if err != nil {
			return err
		}
		created, err = s.Store.CreateProviderConfig(ctx, models.ProviderConfig{Provider: provider, Label: label, Credential: sealed})
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			selected = true
			return s.Store.SetSelectedProviderConfig(ctx, &created.ID)
		}
		return nil
	})
	if err != nil {
		return ConfigView{}, err
	}
	return ConfigView{
		ID:        created.ID,
		Provider:  created.Provider,
		Label:     created.Label,
		MaskedKey: crypto.Mask(credential),
		Selected:  selected,
		CreatedAt: created.CreatedAt,
	}, nil
}

func (s *Service) Select(ctx context.Context, id string) error {
	return s.Store.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.Store.GetProviderConfig(ctx, id); err != nil {
			return s.mapNotFound(err)
		}
		return s.Store.SetSelectedProviderConfig(ctx, &id)
	})
}

// Update replaces the label and, when credential is non-nil, the credential.
func (s *Service) Update(ctx context.Context, id string, label *string, credential *string) error {
	return s.Store.InTx(ctx, func(ctx context.Context) error {
		rec, err := s.Store.GetProviderConfig(ctx, id)
		if err != nil {
			return s.mapNotFound(err)
		}
		rec.Label = label
		if credential != nil {
			plain := strings.TrimSpace(*credential)
			if plain == "" {
				return fmt.Errorf("%w: credential must not be empty", ErrInvalidInput)
			}
			sealed, err := s.Encryptor.Encrypt(plain)
			if err != nil {
				return err
			}
			rec.Credential = sealed
		}
		return s.Store.UpdateProviderConfig(ctx, rec)
	})
}

// Delete removes a credential. When it was selected, the newest remaining
// credential takes over.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.Store.InTx(ctx, func(ctx context.Context) error {
		selected, err := s.Store.SelectedProviderConfigID(ctx)
		if err != nil {
			return err
		}
		if err := s.Store.DeleteProviderConfig(ctx, id); err != nil {
			return s.mapNotFound(err)
		}
		if selected == nil || *selected != id {
			return nil
		}
		remaining, err := s.Store.ListProviderConfigs(ctx)
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			return s.Store.SetSelectedProviderConfig(ctx, nil)
		}
		return s.Store.SetSelectedProviderConfig(ctx, &remaining[0].ID)
	})
}

func (s *Service) mapNotFound(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
