package config

import (
	"admin_service/internal/directory"
	"admin_service/internal/domain"
	"admin_service/pkg/validator"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Entitlement is one entry of the entitlements file. Group names a
// directory under the entitlements root whose children hold the
// entitlement.
type Entitlement struct {
	Name          string              `yaml:"name" validate:"required"`
	Price         string              `yaml:"price" validate:"required"`
	Currency      string              `yaml:"currency" validate:"required,len=3"`
	Group         string              `yaml:"group" validate:"required"`
	Applicability map[string][]string `yaml:"applicability"`
}

type entitlementsFile struct {
	Entitlements []Entitlement `yaml:"entitlements" validate:"dive"`
}

func ParseEntitlements(r io.Reader) ([]Entitlement, error) {
	var file entitlementsFile
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse entitlements: %w", err)
	}
	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("invalid entitlements: %w", err)
	}
	return file.Entitlements, nil
}

// LoadEntitlements reads the entitlements file at path and resolves each
// group under root. An empty path yields an empty database.
func LoadEntitlements(ctx context.Context, path string, dir directory.Directory, root domain.DirectoryEntry) (domain.EntitlementDatabase, error) {
	if path == "" {
		return domain.EntitlementDatabase{}, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return domain.EntitlementDatabase{}, fmt.Errorf("failed to open entitlements: %w", err)
	}
	defer file.Close()
	entitlements, err := ParseEntitlements(file)
	if err != nil {
		return domain.EntitlementDatabase{}, err
	}
	return BuildEntitlementDatabase(ctx, entitlements, dir, root)
}

func BuildEntitlementDatabase(ctx context.Context, entitlements []Entitlement, dir directory.Directory, root domain.DirectoryEntry) (domain.EntitlementDatabase, error) {
	database := domain.EntitlementDatabase{Entries: make([]domain.EntitlementEntry, 0, len(entitlements))}
	for _, entitlement := range entitlements {
		price, err := decimal.NewFromString(entitlement.Price)
		if err != nil {
			return database, fmt.Errorf("entitlement %s: invalid price %q: %w", entitlement.Name, entitlement.Price, err)
		}
		group, err := dir.LoadOrCreateDirectory(ctx, entitlement.Group, root)
		if err != nil {
			return database, fmt.Errorf("entitlement %s: failed to load group %s: %w", entitlement.Name, entitlement.Group, err)
		}
		applicability := make(map[string]domain.MarketDataTypeSet, len(entitlement.Applicability))
		for market, names := range entitlement.Applicability {
			set, err := domain.ParseMarketDataTypeSet(names)
			if err != nil {
				return database, fmt.Errorf("entitlement %s: market %s: %w", entitlement.Name, market, err)
			}
			applicability[market] = set
		}
		database.Entries = append(database.Entries, domain.EntitlementEntry{
			Name:          entitlement.Name,
			Price:         price,
			Currency:      entitlement.Currency,
			GroupEntry:    group,
			Applicability: applicability,
		})
	}
	return database, nil
}
