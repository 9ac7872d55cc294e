package directory

import (
	"admin_service/internal/domain"
	"context"
	"errors"
	"time"
)

// Directory is the identity graph the service reads roles from. Accounts
// are never created through it by the administration core.
type Directory interface {
	LoadDirectoryEntry(ctx context.Context, id uint32) (domain.DirectoryEntry, error)
	LoadParents(ctx context.Context, entry domain.DirectoryEntry) ([]domain.DirectoryEntry, error)
	LoadChildren(ctx context.Context, directory domain.DirectoryEntry) ([]domain.DirectoryEntry, error)
	Associate(ctx context.Context, entry, parent domain.DirectoryEntry) error
	Detach(ctx context.Context, entry, parent domain.DirectoryEntry) error
	LoadOrCreateDirectory(ctx context.Context, name string, parent domain.DirectoryEntry) (domain.DirectoryEntry, error)
	LoadRegistrationTime(ctx context.Context, account domain.DirectoryEntry) (time.Time, error)
	LoadLastLoginTime(ctx context.Context, account domain.DirectoryEntry) (time.Time, error)
	RecordLogin(ctx context.Context, account domain.DirectoryEntry, at time.Time) error
}

var (
	ErrNotFound     = errors.New("directory entry not found")
	ErrNotAccount   = errors.New("entry is not an account")
	ErrNotDirectory = errors.New("entry is not a directory")
)
