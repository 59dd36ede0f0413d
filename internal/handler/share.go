package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/clipcast/clipcast/internal/clipstore"
	"github.com/clipcast/clipcast/internal/protocol"
	"github.com/clipcast/clipcast/internal/sharecache"
)

func (h *Handler) handleShare(ctx context.Context, client uint32, r *protocol.Reader) ([]byte, error) {
	sender, err := r.Identity()
	if err != nil {
		return nil, err
	}
	recipient, err := r.Identity()
	if err != nil {
		return nil, err
	}
	name, err := r.Str8()
	if err != nil {
		return nil, err
	}
	suggested, err := r.Str8()
	if err != nil {
		return nil, err
	}
	if suggested == "" {
		suggested = name
	}
	if sender == recipient {
		return nil, userErrf("cannot share a clip with yourself")
	}

	clip, err := h.store.ClipByOwnerName(ctx, sender, name)
	if err != nil {
		return nil, err
	}
	if err := h.store.CreatePendingShare(ctx, sender, recipient, clip.ID, suggested); err != nil {
		return nil, err
	}
	return protocol.OK(client, fmt.Sprintf("offered %q to %s", name, recipient)), nil
}

// handleShareList populates the requester's share cache: players then
// accept or reject by displayed index, never by record ID.
func (h *Handler) handleShareList(ctx context.Context, client uint32, r *protocol.Reader) ([]byte, error) {
	identity, err := r.Identity()
	if err != nil {
		return nil, err
	}

	shares, err := h.store.PendingSharesFor(ctx, identity)
	if err != nil {
		return nil, err
	}

	records := make([]sharecache.Record, len(shares))
	lines := make([]string, len(shares))
	for i, sh := range shares {
		records[i] = sharecache.Record{
			ShareID:        sh.ID,
			SenderIdentity: sh.Sender,
			SuggestedAlias: sh.SuggestedName,
		}
		lines[i] = fmt.Sprintf("%d. %q from %s", i+1, sh.SuggestedName, sh.Sender)
	}
	h.shares.Store(client, records, time.Now())
	return paginate(client, lines, 0), nil
}

func (h *Handler) handleShareAccept(ctx context.Context, client uint32, r *protocol.Reader) ([]byte, error) {
	identity, err := r.Identity()
	if err != nil {
		return nil, err
	}
	index, err := r.U8()
	if err != nil {
		return nil, err
	}
	alias, err := r.Str8()
	if err != nil {
		return nil, err
	}

	record, ok := h.shares.Resolve(client, int(index), time.Now())
	if !ok {
		return nil, userErrf("share list expired, please list again")
	}
	if alias == "" {
		alias = record.SuggestedAlias
	}
	if !clipstore.ValidAlias(alias) {
		return nil, userErrf("invalid clip name %q", alias)
	}
	if exists, err := h.store.ClipExists(ctx, identity, alias); err != nil {
		return nil, err
	} else if exists {
		return nil, userErrf("you already have a clip named %q", alias)
	}

	clip, err := h.store.AcceptPendingShare(ctx, record.ShareID, identity, alias)
	if err != nil {
		return nil, err
	}
	h.shares.Invalidate(client)
	return protocol.OK(client, fmt.Sprintf("accepted %q from %s", clip.Name, record.SenderIdentity)), nil
}

func (h *Handler) handleShareReject(ctx context.Context, client uint32, r *protocol.Reader) ([]byte, error) {
	identity, err := r.Identity()
	if err != nil {
		return nil, err
	}
	index, err := r.U8()
	if err != nil {
		return nil, err
	}

	record, ok := h.shares.Resolve(client, int(index), time.Now())
	if !ok {
		return nil, userErrf("share list expired, please list again")
	}
	if err := h.store.RejectPendingShare(ctx, record.ShareID, identity); err != nil {
		return nil, err
	}
	h.shares.Invalidate(client)
	return protocol.OK(client, fmt.Sprintf("rejected %q", record.SuggestedAlias)), nil
}
