package directory

import (
	"admin_service/internal/domain"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Seed describes the initial contents of a Graph. Paths are slash separated
// directory names relative to the root, for example
// "trading_groups/desk_a/traders".
type Seed struct {
	Directories []string      `yaml:"directories"`
	Accounts    []SeedAccount `yaml:"accounts"`
}

type SeedAccount struct {
	Name    string   `yaml:"name"`
	Parents []string `yaml:"parents"`
}

func ParseSeed(r io.Reader) (*Seed, error) {
	var seed Seed
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&seed); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse directory seed: %w", err)
	}
	return &seed, nil
}

func LoadSeedFile(path string) (*Seed, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open directory seed: %w", err)
	}
	defer file.Close()
	return ParseSeed(file)
}

// Apply creates every directory and account the seed names. Accounts that
// already exist are associated with any missing parents.
func (g *Graph) Apply(ctx context.Context, seed *Seed) error {
	for _, path := range seed.Directories {
		if _, err := g.LoadOrCreatePath(ctx, path); err != nil {
			return err
		}
	}
	for _, account := range seed.Accounts {
		if account.Name == "" {
			return fmt.Errorf("directory seed: account without a name")
		}
		entry, err := g.FindAccount(account.Name)
		if err != nil {
			entry, err = g.CreateAccount(account.Name, g.root)
			if err != nil {
				return err
			}
		}
		for _, path := range account.Parents {
			parent, err := g.LoadOrCreatePath(ctx, path)
			if err != nil {
				return err
			}
			if err := g.Associate(ctx, entry, parent); err != nil {
				return fmt.Errorf("directory seed: account %s: %w", account.Name, err)
			}
		}
	}
	return nil
}

// LoadOrCreatePath walks path from the root, creating missing directories.
func (g *Graph) LoadOrCreatePath(ctx context.Context, path string) (domain.DirectoryEntry, error) {
	current := g.root
	for _, name := range strings.Split(strings.Trim(path, "/"), "/") {
		if name == "" {
			continue
		}
		next, err := g.LoadOrCreateDirectory(ctx, name, current)
		if err != nil {
			return domain.DirectoryEntry{}, fmt.Errorf("directory seed: path %s: %w", path, err)
		}
		current = next
	}
	return current, nil
}
