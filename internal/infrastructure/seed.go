package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"adengine/internal/domain"

	"github.com/google/uuid"
)

// SeedData is the bootstrap fixture format for accounts and ads.
type SeedData struct {
	Accounts []domain.Account `json:"accounts"`
	Ads      []domain.Ad      `json:"ads"`
}

// Seeder is implemented by both stores.
type Seeder interface {
	CreateAccount(ctx context.Context, account *domain.Account) error
	CreateAd(ctx context.Context, ad *domain.Ad) error
}

func LoadSeedFile(path string) (*SeedData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var data SeedData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &data, nil
}

// Seed inserts accounts before ads so advertiser ids resolve.
func Seed(ctx context.Context, seeder Seeder, data *SeedData) error {
	for i := range data.Accounts {
		if err := seeder.CreateAccount(ctx, &data.Accounts[i]); err != nil {
			return fmt.Errorf("failed to seed account %q: %w", data.Accounts[i].Email, err)
		}
	}
	for i := range data.Ads {
		if err := seeder.CreateAd(ctx, &data.Ads[i]); err != nil {
			return fmt.Errorf("failed to seed ad %q: %w", data.Ads[i].Name, err)
		}
	}
	return nil
}

// prepareAd fills the fields every store derives on insert.
func prepareAd(ad *domain.Ad) {
	ad.CreativeType = domain.NormalizeCreativeType(string(ad.CreativeType))
	if ad.SlotID == "" {
		ad.SlotID = uuid.NewString()
	}
}
