package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/clipcast/clipcast/internal/clipstore"
	"github.com/clipcast/clipcast/internal/protocol"
	"github.com/clipcast/clipcast/internal/repository"
)

func (h *Handler) handlePlaylistCreate(ctx context.Context, client uint32, r *protocol.Reader) ([]byte, error) {
	identity, err := r.Identity()
	if err != nil {
		return nil, err
	}
	name, err := r.Str8()
	if err != nil {
		return nil, err
	}
	if !clipstore.ValidAlias(name) {
		return nil, userErrf("invalid playlist name %q", name)
	}
	if err := h.store.CreatePlaylist(ctx, identity, name); err != nil {
		return nil, err
	}
	return protocol.OK(client, fmt.Sprintf("created playlist %q", name)), nil
}

func (h *Handler) handlePlaylistDelete(ctx context.Context, client uint32, r *protocol.Reader) ([]byte, error) {
	identity, err := r.Identity()
	if err != nil {
		return nil, err
	}
	name, err := r.Str8()
	if err != nil {
		return nil, err
	}
	if err := h.store.DeletePlaylist(ctx, identity, name); err != nil {
		return nil, err
	}
	return protocol.OK(client, fmt.Sprintf("deleted playlist %q", name)), nil
}

// handlePlaylistList lists the owner's playlists, or the entries of
// one playlist when a name is supplied.
func (h *Handler) handlePlaylistList(ctx context.Context, client uint32, r *protocol.Reader) ([]byte, error) {
	identity, err := r.Identity()
	if err != nil {
		return nil, err
	}
	name, err := r.Str8()
	if err != nil {
		return nil, err
	}
	page, err := r.U8()
	if err != nil {
		return nil, err
	}

	if name == "" {
		playlists, err := h.store.Playlists(ctx, identity)
		if err != nil {
			return nil, err
		}
		lines := make([]string, len(playlists))
		for i, p := range playlists {
			visibility := "private"
			if p.Public {
				visibility = "public"
			}
			lines[i] = fmt.Sprintf("%s [%s]", p.Name, visibility)
		}
		return paginate(client, lines, page), nil
	}

	entries, err := h.store.PlaylistEntries(ctx, identity, name)
	if err != nil {
		return nil, err
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = fmt.Sprintf("%d. %s", e.Position+1, e.ClipName)
	}
	return paginate(client, lines, page), nil
}

func (h *Handler) handlePlaylistEdit(ctx context.Context, client uint32, r *protocol.Reader, op string) ([]byte, error) {
	identity, err := r.Identity()
	if err != nil {
		return nil, err
	}
	playlist, err := r.Str8()
	if err != nil {
		return nil, err
	}
	clip, err := r.Str8()
	if err != nil {
		return nil, err
	}

	var done string
	if op == "add" {
		err = h.store.AddToPlaylist(ctx, identity, playlist, clip)
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, userErrf("%q is already in %q", clip, playlist)
		}
		done = "added"
	} else {
		err = h.store.RemoveFromPlaylist(ctx, identity, playlist, clip)
		done = "removed"
	}
	if err != nil {
		return nil, err
	}
	return protocol.OK(client, fmt.Sprintf("%s %q", done, clip)), nil
}

func (h *Handler) handlePlaylistMove(ctx context.Context, client uint32, r *protocol.Reader) ([]byte, error) {
	identity, err := r.Identity()
	if err != nil {
		return nil, err
	}
	playlist, err := r.Str8()
	if err != nil {
		return nil, err
	}
	clip, err := r.Str8()
	if err != nil {
		return nil, err
	}
	position, err := r.U8()
	if err != nil {
		return nil, err
	}

	if err := h.store.MovePlaylistEntry(ctx, identity, playlist, clip, int(position)); err != nil {
		return nil, err
	}
	return protocol.OK(client, fmt.Sprintf("moved %q to position %d", clip, position+1)), nil
}

// handlePlaylistPlay picks a random entry from the named playlist.
func (h *Handler) handlePlaylistPlay(ctx context.Context, client uint32, r *protocol.Reader) ([]byte, error) {
	identity, err := r.Identity()
	if err != nil {
		return nil, err
	}
	name, err := r.Str8()
	if err != nil {
		return nil, err
	}

	clip, err := h.store.RandomPlaylistClip(ctx, identity, name)
	if err != nil {
		return nil, err
	}
	return h.playClip(ctx, client, identity, clip)
}
