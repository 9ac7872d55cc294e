package domain

import (
	"fmt"
)

type EntryType int

const (
	EntryTypeNone EntryType = iota
	EntryTypeAccount
	EntryTypeDirectory
)

func (t EntryType) String() string {
	switch t {
	case EntryTypeAccount:
		return "account"
	case EntryTypeDirectory:
		return "directory"
	default:
		return "none"
	}
}

// DirectoryEntry identifies a node of the external identity graph. Two
// entries are the same node when their type and id match; the name is
// informational only.
type DirectoryEntry struct {
	Type EntryType `json:"type"`
	ID   uint32    `json:"id"`
	Name string    `json:"name"`
}

func MakeAccount(id uint32, name string) DirectoryEntry {
	return DirectoryEntry{Type: EntryTypeAccount, ID: id, Name: name}
}

func MakeDirectory(id uint32, name string) DirectoryEntry {
	return DirectoryEntry{Type: EntryTypeDirectory, ID: id, Name: name}
}

func (e DirectoryEntry) Equal(other DirectoryEntry) bool {
	return e.Type == other.Type && e.ID == other.ID
}

func (e DirectoryEntry) IsZero() bool {
	return e.Type == EntryTypeNone && e.ID == 0
}

func (e DirectoryEntry) IsAccount() bool {
	return e.Type == EntryTypeAccount
}

func (e DirectoryEntry) IsDirectory() bool {
	return e.Type == EntryTypeDirectory
}

func (e DirectoryEntry) String() string {
	if e.Name == "" {
		return fmt.Sprintf("%s(%d)", e.Type, e.ID)
	}
	return fmt.Sprintf("%s(%d, %s)", e.Type, e.ID, e.Name)
}

// ContainsEntry reports whether entries holds a node equal to entry.
func ContainsEntry(entries []DirectoryEntry, entry DirectoryEntry) bool {
	for _, e := range entries {
		if e.Equal(entry) {
			return true
		}
	}
	return false
}
