// Package repository is the boundary to the external metadata store.
// Every call is synchronous and may fail; callers treat failure as a
// normal path and degrade instead of aborting.
package repository

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
)

type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityShared  Visibility = "shared"
	VisibilityPublic  Visibility = "public"
)

func ParseVisibility(b byte) (Visibility, bool) {
	switch b {
	case 0:
		return VisibilityPrivate, true
	case 1:
		return VisibilityShared, true
	case 2:
		return VisibilityPublic, true
	}
	return "", false
}

// Clip is stored clip metadata. The file at Path may be referenced by
// multiple owners when shared; it is only removed from disk once its
// reference count reaches zero.
type Clip struct {
	ID           int64
	Owner        string
	Name         string
	Path         string
	ByteSize     int64
	DurationSecs float64
	Visibility   Visibility
}

type Playlist struct {
	ID     int64
	Owner  string
	Name   string
	Public bool
}

type PlaylistEntry struct {
	ClipID   int64
	ClipName string
	Position int
}

type PendingShare struct {
	ID            int64
	Sender        string
	Recipient     string
	ClipID        int64
	SuggestedName string
	CreatedAt     time.Time
}

type MenuEntryKind string

const (
	MenuEntryPage MenuEntryKind = "page"
	MenuEntryClip MenuEntryKind = "clip"
)

type MenuEntry struct {
	Slot  int
	Kind  MenuEntryKind
	RefID int64
	Label string
}

type MenuPage struct {
	ID       int64
	ParentID int64 // 0 for root pages
	Title    string
	Entries  []MenuEntry
}

// Store is the full query/command surface the dispatcher consumes.
type Store interface {
	Register(ctx context.Context, identity string) error

	CreateClip(ctx context.Context, clip Clip) (int64, error)
	ClipByOwnerName(ctx context.Context, owner, name string) (*Clip, error)
	ClipByID(ctx context.Context, id int64) (*Clip, error)
	ClipsByOwner(ctx context.Context, owner string) ([]Clip, error)
	CountClips(ctx context.Context, owner string) (int, error)
	ClipExists(ctx context.Context, owner, name string) (bool, error)
	RenameClip(ctx context.Context, owner, oldName, newName string) error
	// DeleteClip removes the metadata row and decrements the file's
	// reference count. It returns the on-disk path once no references
	// remain, or "" while other owners still point at the file.
	DeleteClip(ctx context.Context, owner, name string) (orphanPath string, err error)
	SetVisibility(ctx context.Context, owner, name string, v Visibility) error
	PublicClips(ctx context.Context) ([]Clip, error)
	// ResolvePlayable finds the clip a requester may play under a given
	// name: their own namespace first (including clips reachable
	// through their playlists), then public clips and public playlists.
	ResolvePlayable(ctx context.Context, requester, name string) (*Clip, error)

	CreatePlaylist(ctx context.Context, owner, name string) error
	DeletePlaylist(ctx context.Context, owner, name string) error
	Playlists(ctx context.Context, owner string) ([]Playlist, error)
	PlaylistEntries(ctx context.Context, owner, name string) ([]PlaylistEntry, error)
	AddToPlaylist(ctx context.Context, owner, playlist, clip string) error
	RemoveFromPlaylist(ctx context.Context, owner, playlist, clip string) error
	MovePlaylistEntry(ctx context.Context, owner, playlist, clip string, position int) error
	RandomPlaylistClip(ctx context.Context, requester, playlist string) (*Clip, error)

	CreatePendingShare(ctx context.Context, sender, recipient string, clipID int64, suggested string) error
	PendingSharesFor(ctx context.Context, recipient string) ([]PendingShare, error)
	// AcceptPendingShare clones the shared clip into the recipient's
	// namespace under alias, bumping the file's reference count.
	AcceptPendingShare(ctx context.Context, shareID int64, recipient, alias string) (*Clip, error)
	RejectPendingShare(ctx context.Context, shareID int64, recipient string) error

	MenuPage(ctx context.Context, id int64) (*MenuPage, error)
	MenuEntry(ctx context.Context, pageID int64, slot int) (*MenuEntry, error)
}
