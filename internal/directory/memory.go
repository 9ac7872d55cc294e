package directory

import (
	"admin_service/internal/domain"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// RootName is the name of the top level directory of a Graph.
const RootName = "*"

type node struct {
	entry        domain.DirectoryEntry
	parents      []uint32
	children     []uint32
	registration time.Time
	lastLogin    time.Time
}

// Graph is an in-memory Directory.
type Graph struct {
	mu     sync.RWMutex
	nodes  map[uint32]*node
	nextID uint32
	root   domain.DirectoryEntry
	now    func() time.Time
}

var _ Directory = (*Graph)(nil)

func NewGraph() *Graph {
	g := &Graph{
		nodes:  make(map[uint32]*node),
		nextID: 1,
		now:    time.Now,
	}
	g.root = g.insert(domain.EntryTypeDirectory, RootName)
	return g
}

// Root returns the top level directory.
func (g *Graph) Root() domain.DirectoryEntry {
	return g.root
}

func (g *Graph) insert(entryType domain.EntryType, name string) domain.DirectoryEntry {
	entry := domain.DirectoryEntry{Type: entryType, ID: g.nextID, Name: name}
	g.nextID++
	g.nodes[entry.ID] = &node{entry: entry, registration: g.now().UTC()}
	return entry
}

// CreateAccount adds an account under parent.
func (g *Graph) CreateAccount(name string, parent domain.DirectoryEntry) (domain.DirectoryEntry, error) {
	return g.create(domain.EntryTypeAccount, name, parent)
}

// CreateDirectory adds a directory under parent.
func (g *Graph) CreateDirectory(name string, parent domain.DirectoryEntry) (domain.DirectoryEntry, error) {
	return g.create(domain.EntryTypeDirectory, name, parent)
}

func (g *Graph) create(entryType domain.EntryType, name string, parent domain.DirectoryEntry) (domain.DirectoryEntry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.directoryNode(parent)
	if err != nil {
		return domain.DirectoryEntry{}, err
	}
	entry := g.insert(entryType, name)
	g.link(g.nodes[entry.ID], p)
	return entry, nil
}

// FindAccount returns the account with the given name.
func (g *Graph) FindAccount(name string) (domain.DirectoryEntry, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, n := range g.nodes {
		if n.entry.IsAccount() && n.entry.Name == name {
			return n.entry, nil
		}
	}
	return domain.DirectoryEntry{}, fmt.Errorf("%w: account %s", ErrNotFound, name)
}

func (g *Graph) LoadDirectoryEntry(ctx context.Context, id uint32) (domain.DirectoryEntry, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return domain.DirectoryEntry{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return n.entry, nil
}

func (g *Graph) LoadParents(ctx context.Context, entry domain.DirectoryEntry) ([]domain.DirectoryEntry, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, err := g.lookup(entry)
	if err != nil {
		return nil, err
	}
	return g.entries(n.parents), nil
}

func (g *Graph) LoadChildren(ctx context.Context, directory domain.DirectoryEntry) ([]domain.DirectoryEntry, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, err := g.directoryNode(directory)
	if err != nil {
		return nil, err
	}
	return g.entries(n.children), nil
}

func (g *Graph) Associate(ctx context.Context, entry, parent domain.DirectoryEntry) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	child, err := g.lookup(entry)
	if err != nil {
		return err
	}
	p, err := g.directoryNode(parent)
	if err != nil {
		return err
	}
	g.link(child, p)
	return nil
}

func (g *Graph) Detach(ctx context.Context, entry, parent domain.DirectoryEntry) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	child, err := g.lookup(entry)
	if err != nil {
		return err
	}
	p, err := g.directoryNode(parent)
	if err != nil {
		return err
	}
	child.parents = removeID(child.parents, p.entry.ID)
	p.children = removeID(p.children, child.entry.ID)
	return nil
}

func (g *Graph) LoadOrCreateDirectory(ctx context.Context, name string, parent domain.DirectoryEntry) (domain.DirectoryEntry, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	p, err := g.directoryNode(parent)
	if err != nil {
		return domain.DirectoryEntry{}, err
	}
	for _, id := range p.children {
		if child := g.nodes[id].entry; child.IsDirectory() && child.Name == name {
			return child, nil
		}
	}
	entry := g.insert(domain.EntryTypeDirectory, name)
	g.link(g.nodes[entry.ID], p)
	return entry, nil
}

func (g *Graph) LoadRegistrationTime(ctx context.Context, account domain.DirectoryEntry) (time.Time, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, err := g.accountNode(account)
	if err != nil {
		return time.Time{}, err
	}
	return n.registration, nil
}

func (g *Graph) LoadLastLoginTime(ctx context.Context, account domain.DirectoryEntry) (time.Time, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, err := g.accountNode(account)
	if err != nil {
		return time.Time{}, err
	}
	return n.lastLogin, nil
}

func (g *Graph) RecordLogin(ctx context.Context, account domain.DirectoryEntry, at time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, err := g.accountNode(account)
	if err != nil {
		return err
	}
	n.lastLogin = at.UTC()
	return nil
}

func (g *Graph) lookup(entry domain.DirectoryEntry) (*node, error) {
	n, ok := g.nodes[entry.ID]
	if !ok || n.entry.Type != entry.Type {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, entry)
	}
	return n, nil
}

func (g *Graph) accountNode(entry domain.DirectoryEntry) (*node, error) {
	n, err := g.lookup(entry)
	if err != nil {
		return nil, err
	}
	if !n.entry.IsAccount() {
		return nil, fmt.Errorf("%w: %s", ErrNotAccount, entry)
	}
	return n, nil
}

func (g *Graph) directoryNode(entry domain.DirectoryEntry) (*node, error) {
	n, err := g.lookup(entry)
	if err != nil {
		return nil, err
	}
	if !n.entry.IsDirectory() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, entry)
	}
	return n, nil
}

func (g *Graph) link(child, parent *node) {
	for _, id := range child.parents {
		if id == parent.entry.ID {
			return
		}
	}
	child.parents = append(child.parents, parent.entry.ID)
	parent.children = append(parent.children, child.entry.ID)
}

func (g *Graph) entries(ids []uint32) []domain.DirectoryEntry {
	result := make([]domain.DirectoryEntry, 0, len(ids))
	for _, id := range ids {
		result = append(result, g.nodes[id].entry)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func removeID(ids []uint32, id uint32) []uint32 {
	result := ids[:0]
	for _, existing := range ids {
		if existing != id {
			result = append(result, existing)
		}
	}
	return result
}
