package handler

import (
	"context"

	"github.com/clipcast/clipcast/internal/protocol"
	"github.com/clipcast/clipcast/internal/repository"
)

// rootMenuPage is what clients get when they ask for page 0.
const rootMenuPage = 1

func (h *Handler) handleMenuGet(ctx context.Context, client uint32, r *protocol.Reader) ([]byte, error) {
	pageID, err := r.U32()
	if err != nil {
		return nil, err
	}
	if pageID == 0 {
		pageID = rootMenuPage
	}
	return h.menuResponse(ctx, client, int64(pageID))
}

// handleMenuNav follows a submenu entry and returns the child page.
func (h *Handler) handleMenuNav(ctx context.Context, client uint32, r *protocol.Reader) ([]byte, error) {
	pageID, err := r.U32()
	if err != nil {
		return nil, err
	}
	slot, err := r.U8()
	if err != nil {
		return nil, err
	}

	entry, err := h.store.MenuEntry(ctx, int64(pageID), int(slot))
	if err != nil {
		return nil, err
	}
	if entry.Kind != repository.MenuEntryPage {
		return nil, userErrf("that entry is not a submenu")
	}
	return h.menuResponse(ctx, client, entry.RefID)
}

func (h *Handler) handleMenuPlay(ctx context.Context, client uint32, r *protocol.Reader) ([]byte, error) {
	pageID, err := r.U32()
	if err != nil {
		return nil, err
	}
	slot, err := r.U8()
	if err != nil {
		return nil, err
	}

	entry, err := h.store.MenuEntry(ctx, int64(pageID), int(slot))
	if err != nil {
		return nil, err
	}
	if entry.Kind != repository.MenuEntryClip {
		return nil, userErrf("that entry is not a clip")
	}

	// Menus are server-curated, so any referenced clip is playable.
	clip, err := h.store.ClipByID(ctx, entry.RefID)
	if err != nil {
		return nil, err
	}
	return h.playClip(ctx, client, clientKey(client), clip)
}

func (h *Handler) menuResponse(ctx context.Context, client uint32, pageID int64) ([]byte, error) {
	page, err := h.store.MenuPage(ctx, pageID)
	if err != nil {
		return nil, err
	}

	items := make([]protocol.MenuItem, len(page.Entries))
	for i, e := range page.Entries {
		kind := protocol.MenuKindClip
		if e.Kind == repository.MenuEntryPage {
			kind = protocol.MenuKindPage
		}
		items[i] = protocol.MenuItem{
			Slot:  uint8(e.Slot),
			Kind:  kind,
			Ref:   uint64(e.RefID),
			Label: e.Label,
		}
	}
	return protocol.Menu(client, uint32(page.ID), page.Title, items), nil
}
