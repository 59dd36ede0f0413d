// Package handler decodes wire commands, applies rate limits, and
// drives the storage, download, and playback engines. Every failure
// turns into a concise reply; nothing here may take the service down.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clipcast/clipcast/internal/clipstore"
	"github.com/clipcast/clipcast/internal/codec"
	"github.com/clipcast/clipcast/internal/datalayer"
	"github.com/clipcast/clipcast/internal/download"
	"github.com/clipcast/clipcast/internal/playback"
	"github.com/clipcast/clipcast/internal/protocol"
	"github.com/clipcast/clipcast/internal/ratelimit"
	"github.com/clipcast/clipcast/internal/repository"
	"github.com/clipcast/clipcast/internal/sharecache"
)

// listPageSize is how many lines a single list response carries.
const listPageSize = 10

type Handler struct {
	store     repository.Store
	layout    *clipstore.Layout
	engine    *playback.Engine
	downloads *download.Supervisor
	plays     *ratelimit.PlayLimiter
	shares    *sharecache.Cache
	blobs     datalayer.BlobStorage // nil disables the mirror
}

func New(
	store repository.Store,
	layout *clipstore.Layout,
	engine *playback.Engine,
	downloads *download.Supervisor,
	plays *ratelimit.PlayLimiter,
	shares *sharecache.Cache,
	blobs datalayer.BlobStorage,
) *Handler {
	return &Handler{
		store:     store,
		layout:    layout,
		engine:    engine,
		downloads: downloads,
		plays:     plays,
		shares:    shares,
		blobs:     blobs,
	}
}

// Handle processes one command packet and returns the reply, or nil
// when the packet is too malformed to even address a client.
func (h *Handler) Handle(ctx context.Context, pkt []byte) []byte {
	typ, client, r, err := protocol.ParseHeader(pkt)
	if err != nil {
		slog.Debug("dropping malformed packet", "size", len(pkt))
		return nil
	}

	reply, err := h.dispatch(ctx, typ, client, r)
	if err != nil {
		return protocol.Error(client, userMessage(err))
	}
	return reply
}

func (h *Handler) dispatch(ctx context.Context, typ byte, client uint32, r *protocol.Reader) ([]byte, error) {
	switch typ {
	case protocol.CmdRegister:
		return h.handleRegister(ctx, client, r)
	case protocol.CmdDownload:
		return h.handleDownload(ctx, client, r)
	case protocol.CmdPlay:
		return h.handlePlay(ctx, client, r)
	case protocol.CmdPlayByID:
		return h.handlePlayByID(ctx, client, r)
	case protocol.CmdStop:
		h.engine.Stop()
		return protocol.OK(client, "stopped"), nil
	case protocol.CmdList:
		return h.handleList(ctx, client, r)
	case protocol.CmdDelete:
		return h.handleDelete(ctx, client, r)
	case protocol.CmdRename:
		return h.handleRename(ctx, client, r)
	case protocol.CmdVisibilityGet:
		return h.handleVisibilityGet(ctx, client, r)
	case protocol.CmdVisibilitySet:
		return h.handleVisibilitySet(ctx, client, r)
	case protocol.CmdPublicList:
		return h.handlePublicList(ctx, client, r)
	case protocol.CmdPublicAdd:
		return h.handlePublicAdd(ctx, client, r)
	case protocol.CmdShare:
		return h.handleShare(ctx, client, r)
	case protocol.CmdShareList:
		return h.handleShareList(ctx, client, r)
	case protocol.CmdShareAccept:
		return h.handleShareAccept(ctx, client, r)
	case protocol.CmdShareReject:
		return h.handleShareReject(ctx, client, r)
	case protocol.CmdPlaylistCreate:
		return h.handlePlaylistCreate(ctx, client, r)
	case protocol.CmdPlaylistDelete:
		return h.handlePlaylistDelete(ctx, client, r)
	case protocol.CmdPlaylistList:
		return h.handlePlaylistList(ctx, client, r)
	case protocol.CmdPlaylistAdd:
		return h.handlePlaylistEdit(ctx, client, r, "add")
	case protocol.CmdPlaylistRemove:
		return h.handlePlaylistEdit(ctx, client, r, "remove")
	case protocol.CmdPlaylistMove:
		return h.handlePlaylistMove(ctx, client, r)
	case protocol.CmdPlaylistPlay:
		return h.handlePlaylistPlay(ctx, client, r)
	case protocol.CmdMenuGet:
		return h.handleMenuGet(ctx, client, r)
	case protocol.CmdMenuNav:
		return h.handleMenuNav(ctx, client, r)
	case protocol.CmdMenuPlay:
		return h.handleMenuPlay(ctx, client, r)
	}
	return nil, userErrf("unknown command")
}

// uerr marks an error whose text is safe to send to players verbatim.
type uerr struct{ msg string }

func (e *uerr) Error() string { return e.msg }

func userErrf(format string, args ...any) error {
	return &uerr{msg: fmt.Sprintf(format, args...)}
}

// userMessage maps internal errors onto the concise strings players
// see. I/O and store failures are logged with detail and collapsed to
// a generic message.
func userMessage(err error) string {
	var cooldown *download.CooldownError
	var user *uerr
	switch {
	case errors.As(err, &user):
		return user.msg
	case errors.As(err, &cooldown):
		return cooldown.Error()
	case errors.Is(err, download.ErrLibraryFull),
		errors.Is(err, download.ErrQueueFull),
		errors.Is(err, download.ErrAliasTaken),
		errors.Is(err, protocol.ErrTruncated),
		errors.Is(err, repository.ErrNotFound):
		return err.Error()
	}
	slog.Error("command failed", "error", err)
	return "request failed"
}

func (h *Handler) handleRegister(ctx context.Context, client uint32, r *protocol.Reader) ([]byte, error) {
	identity, err := r.Identity()
	if err != nil {
		return nil, err
	}
	if err := h.store.Register(ctx, identity); err != nil {
		return nil, err
	}
	return protocol.OK(client, "registered"), nil
}

func (h *Handler) handleDownload(ctx context.Context, client uint32, r *protocol.Reader) ([]byte, error) {
	identity, err := r.Identity()
	if err != nil {
		return nil, err
	}
	name, err := r.Str8()
	if err != nil {
		return nil, err
	}
	url, err := r.Str16()
	if err != nil {
		return nil, err
	}

	if err := h.downloads.QueueDownload(ctx, client, identity, url, name); err != nil {
		return nil, err
	}
	return protocol.OK(client, fmt.Sprintf("downloading %q", name)), nil
}

// CompleteDownload turns a finished fetch into a library clip and
// builds the notification for the original requester.
func (h *Handler) CompleteDownload(ctx context.Context, res download.Result) []byte {
	if res.Err != nil {
		return protocol.Error(res.Requester, fmt.Sprintf("download of %q failed: %s", res.Name, res.Err))
	}

	// Decoding now both validates the file end to end and yields the
	// duration for the catalog.
	pcm, err := codec.Decode(res.Path)
	if err != nil {
		os.Remove(res.Path)
		slog.Warn("downloaded file failed to decode", "name", res.Name, "error", err)
		return protocol.Error(res.Requester, fmt.Sprintf("%q is not a playable audio file", res.Name))
	}
	duration := float64(len(pcm)) / float64(codec.TargetRate)

	if _, err := h.layout.EnsureOwnerDir(res.Owner); err != nil {
		os.Remove(res.Path)
		slog.Error("failed to create owner directory", "owner", res.Owner, "error", err)
		return protocol.Error(res.Requester, "request failed")
	}
	dest, err := h.layout.NewClipPath(res.Owner)
	if err != nil {
		os.Remove(res.Path)
		slog.Error("failed to allocate clip path", "error", err)
		return protocol.Error(res.Requester, "request failed")
	}
	if err := os.Rename(res.Path, dest); err != nil {
		os.Remove(res.Path)
		slog.Error("failed to move clip into library", "error", err)
		return protocol.Error(res.Requester, "request failed")
	}

	info, err := os.Stat(dest)
	if err != nil {
		slog.Error("failed to stat clip", "error", err)
		return protocol.Error(res.Requester, "request failed")
	}

	_, err = h.store.CreateClip(ctx, repository.Clip{
		Owner:        res.Owner,
		Name:         res.Name,
		Path:         dest,
		ByteSize:     info.Size(),
		DurationSecs: duration,
		Visibility:   repository.VisibilityPrivate,
	})
	if err != nil {
		os.Remove(dest)
		slog.Error("failed to record clip", "error", err)
		return protocol.Error(res.Requester, "request failed")
	}

	if h.blobs != nil {
		if err := datalayer.MirrorFile(ctx, h.blobs, mirrorKey(dest), dest); err != nil {
			// Mirror trouble never fails the download.
			slog.Warn("failed to mirror clip", "name", res.Name, "error", err)
		}
	}

	return protocol.OK(res.Requester, fmt.Sprintf("%q is ready (%.1fs)", res.Name, duration))
}

func (h *Handler) handlePlay(ctx context.Context, client uint32, r *protocol.Reader) ([]byte, error) {
	identity, err := r.Identity()
	if err != nil {
		return nil, err
	}
	name, err := r.Str8()
	if err != nil {
		return nil, err
	}

	clip, err := h.store.ResolvePlayable(ctx, identity, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, userErrf("no clip named %q", name)
		}
		return nil, err
	}
	return h.playClip(ctx, client, identity, clip)
}

func (h *Handler) handlePlayByID(ctx context.Context, client uint32, r *protocol.Reader) ([]byte, error) {
	id, err := r.U64()
	if err != nil {
		return nil, err
	}
	clip, err := h.store.ClipByID(ctx, int64(id))
	if err != nil {
		return nil, err
	}
	if clip.Visibility != repository.VisibilityPublic {
		return nil, userErrf("clip is not public")
	}
	return h.playClip(ctx, client, clientKey(client), clip)
}

// playClip applies the play limiter and starts the engine on a clip,
// restoring the file from the mirror if it has gone missing locally.
func (h *Handler) playClip(ctx context.Context, client uint32, limiterKey string, clip *repository.Clip) ([]byte, error) {
	if d := h.plays.Allow(limiterKey, time.Now()); !d.Allowed {
		secs := int(d.RetryAfter.Seconds() + 0.999)
		return nil, userErrf("too many plays, wait %ds", secs)
	}

	if _, err := os.Stat(clip.Path); err != nil && h.blobs != nil {
		if rerr := datalayer.RestoreFile(ctx, h.blobs, mirrorKey(clip.Path), clip.Path); rerr != nil {
			slog.Warn("failed to restore clip from mirror", "name", clip.Name, "error", rerr)
		}
	}

	if err := h.engine.Play(client, clip.Owner, clip.Name, clip.Path); err != nil {
		if errors.Is(err, playback.ErrInterrupted) {
			return protocol.OK(client, "superseded by a newer play"), nil
		}
		slog.Warn("playback failed", "name", clip.Name, "error", err)
		return nil, userErrf("cannot play %q", clip.Name)
	}
	return protocol.OK(client, fmt.Sprintf("playing %q", clip.Name)), nil
}

func (h *Handler) handleList(ctx context.Context, client uint32, r *protocol.Reader) ([]byte, error) {
	identity, err := r.Identity()
	if err != nil {
		return nil, err
	}
	page, err := r.U8()
	if err != nil {
		return nil, err
	}

	clips, err := h.store.ClipsByOwner(ctx, identity)
	if err != nil {
		return nil, err
	}
	lines := make([]string, len(clips))
	for i, c := range clips {
		lines[i] = fmt.Sprintf("%s [%s] %.1fs", c.Name, c.Visibility, c.DurationSecs)
	}
	return paginate(client, lines, page), nil
}

func (h *Handler) handleDelete(ctx context.Context, client uint32, r *protocol.Reader) ([]byte, error) {
	identity, err := r.Identity()
	if err != nil {
		return nil, err
	}
	name, err := r.Str8()
	if err != nil {
		return nil, err
	}

	orphanPath, err := h.store.DeleteClip(ctx, identity, name)
	if err != nil {
		return nil, err
	}
	if orphanPath != "" {
		if err := os.Remove(orphanPath); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove clip file", "path", orphanPath, "error", err)
		}
	}
	return protocol.OK(client, fmt.Sprintf("deleted %q", name)), nil
}

func (h *Handler) handleRename(ctx context.Context, client uint32, r *protocol.Reader) ([]byte, error) {
	identity, err := r.Identity()
	if err != nil {
		return nil, err
	}
	oldName, err := r.Str8()
	if err != nil {
		return nil, err
	}
	newName, err := r.Str8()
	if err != nil {
		return nil, err
	}
	if !clipstore.ValidAlias(newName) {
		return nil, userErrf("invalid clip name %q", newName)
	}

	if err := h.store.RenameClip(ctx, identity, oldName, newName); err != nil {
		return nil, err
	}
	return protocol.OK(client, fmt.Sprintf("renamed %q to %q", oldName, newName)), nil
}

func (h *Handler) handleVisibilityGet(ctx context.Context, client uint32, r *protocol.Reader) ([]byte, error) {
	identity, err := r.Identity()
	if err != nil {
		return nil, err
	}
	name, err := r.Str8()
	if err != nil {
		return nil, err
	}
	clip, err := h.store.ClipByOwnerName(ctx, identity, name)
	if err != nil {
		return nil, err
	}
	return protocol.OK(client, string(clip.Visibility)), nil
}

func (h *Handler) handleVisibilitySet(ctx context.Context, client uint32, r *protocol.Reader) ([]byte, error) {
	identity, err := r.Identity()
	if err != nil {
		return nil, err
	}
	name, err := r.Str8()
	if err != nil {
		return nil, err
	}
	visByte, err := r.U8()
	if err != nil {
		return nil, err
	}
	vis, ok := repository.ParseVisibility(visByte)
	if !ok {
		return nil, userErrf("invalid visibility %d", visByte)
	}

	if err := h.store.SetVisibility(ctx, identity, name, vis); err != nil {
		return nil, err
	}
	return protocol.OK(client, fmt.Sprintf("%q is now %s", name, vis)), nil
}

func (h *Handler) handlePublicList(ctx context.Context, client uint32, r *protocol.Reader) ([]byte, error) {
	page, err := r.U8()
	if err != nil {
		return nil, err
	}
	clips, err := h.store.PublicClips(ctx)
	if err != nil {
		return nil, err
	}
	lines := make([]string, len(clips))
	for i, c := range clips {
		lines[i] = fmt.Sprintf("%s (%s) %.1fs", c.Name, c.Owner, c.DurationSecs)
	}
	return paginate(client, lines, page), nil
}

func (h *Handler) handlePublicAdd(ctx context.Context, client uint32, r *protocol.Reader) ([]byte, error) {
	identity, err := r.Identity()
	if err != nil {
		return nil, err
	}
	name, err := r.Str8()
	if err != nil {
		return nil, err
	}
	if err := h.store.SetVisibility(ctx, identity, name, repository.VisibilityPublic); err != nil {
		return nil, err
	}
	return protocol.OK(client, fmt.Sprintf("%q added to the public library", name)), nil
}

func paginate(client uint32, lines []string, page byte) []byte {
	if len(lines) == 0 {
		return protocol.List(client, 0, 0, "nothing here yet")
	}
	pages := (len(lines) + listPageSize - 1) / listPageSize
	p := int(page)
	if p >= pages {
		p = pages - 1
	}
	start := p * listPageSize
	end := start + listPageSize
	if end > len(lines) {
		end = len(lines)
	}
	return protocol.List(client, uint8(p), uint8(pages), strings.Join(lines[start:end], "\n"))
}

func clientKey(client uint32) string {
	return fmt.Sprintf("client:%d", client)
}

func mirrorKey(path string) string {
	return "clips/" + filepath.Base(filepath.Dir(path)) + "/" + filepath.Base(path)
}
