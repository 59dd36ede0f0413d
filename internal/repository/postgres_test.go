package repository_test

import (
	"errors"
	"testing"

	"github.com/clipcast/clipcast/internal/datalayer"
	"github.com/clipcast/clipcast/internal/repository"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func newTestStore(t *testing.T) *repository.PostgresStore {
	t.Helper()
	ctx := t.Context()

	postgresContainer, err := postgres.Run(
		ctx,
		"postgres",
		postgres.WithDatabase("clipcast"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	connStr, err := postgresContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to create postgres pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := datalayer.MigratePostgres(pool); err != nil {
		t.Fatalf("failed to migrate postgres: %v", err)
	}

	return repository.NewPostgresStore(pool)
}

func mustCreateClip(t *testing.T, store *repository.PostgresStore, clip repository.Clip) int64 {
	t.Helper()
	id, err := store.CreateClip(t.Context(), clip)
	if err != nil {
		t.Fatalf("failed to create clip: %v", err)
	}
	return id
}

func TestClipLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	id := mustCreateClip(t, store, repository.Clip{
		Owner:        "alice",
		Name:         "AirHorn",
		Path:         "/data/alice/airhorn.clip",
		ByteSize:     4096,
		DurationSecs: 2.5,
		Visibility:   repository.VisibilityPrivate,
	})

	t.Run("lookup by owner and name is case-insensitive", func(t *testing.T) {
		clip, err := store.ClipByOwnerName(ctx, "alice", "airhorn")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if clip.ID != id || clip.Name != "AirHorn" || clip.DurationSecs != 2.5 {
			t.Errorf("clip = %+v", clip)
		}
	})

	t.Run("exists and count see the clip", func(t *testing.T) {
		exists, err := store.ClipExists(ctx, "alice", "AIRHORN")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !exists {
			t.Error("clip should exist")
		}
		count, err := store.CountClips(ctx, "alice")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 1 {
			t.Errorf("count = %d, want 1", count)
		}
	})

	t.Run("duplicate alias for the same owner is rejected", func(t *testing.T) {
		_, err := store.CreateClip(ctx, repository.Clip{
			Owner: "alice",
			Name:  "airhorn",
			Path:  "/data/alice/airhorn2.clip",
		})
		if err == nil {
			t.Error("expected unique violation")
		}
	})

	t.Run("same alias under another owner is fine", func(t *testing.T) {
		mustCreateClip(t, store, repository.Clip{
			Owner: "bob",
			Name:  "airhorn",
			Path:  "/data/bob/airhorn.clip",
		})
	})

	t.Run("rename", func(t *testing.T) {
		if err := store.RenameClip(ctx, "alice", "airhorn", "klaxon"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := store.ClipByOwnerName(ctx, "alice", "airhorn"); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("old alias still resolves: %v", err)
		}
		if _, err := store.ClipByOwnerName(ctx, "alice", "klaxon"); err != nil {
			t.Errorf("new alias does not resolve: %v", err)
		}
	})

	t.Run("delete returns the orphaned path", func(t *testing.T) {
		orphan, err := store.DeleteClip(ctx, "alice", "klaxon")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if orphan != "/data/alice/airhorn.clip" {
			t.Errorf("orphan = %q", orphan)
		}
		if _, err := store.DeleteClip(ctx, "alice", "klaxon"); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("second delete error = %v, want ErrNotFound", err)
		}
	})
}

func TestVisibilityAndPublicClips(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	mustCreateClip(t, store, repository.Clip{
		Owner: "alice", Name: "airhorn", Path: "/data/alice/airhorn.clip",
	})

	if err := store.SetVisibility(ctx, "alice", "airhorn", repository.VisibilityPublic); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	public, err := store.PublicClips(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(public) != 1 || public[0].Name != "airhorn" {
		t.Errorf("public clips = %+v", public)
	}

	if err := store.SetVisibility(ctx, "alice", "ghost", repository.VisibilityPublic); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestResolvePlayablePriority(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	// Bob publishes a clip named "horn"; alice owns a private one with
	// the same alias. Alice's own clip must win.
	mustCreateClip(t, store, repository.Clip{
		Owner: "bob", Name: "horn", Path: "/data/bob/horn.clip",
		Visibility: repository.VisibilityPublic,
	})
	mustCreateClip(t, store, repository.Clip{
		Owner: "alice", Name: "horn", Path: "/data/alice/horn.clip",
	})

	clip, err := store.ResolvePlayable(ctx, "alice", "horn")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clip.Owner != "alice" {
		t.Errorf("resolved owner = %q, want alice", clip.Owner)
	}

	// Carol owns no "horn", so she gets bob's public one.
	clip, err = store.ResolvePlayable(ctx, "carol", "horn")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clip.Owner != "bob" {
		t.Errorf("resolved owner = %q, want bob", clip.Owner)
	}

	// A private clip is invisible to strangers.
	mustCreateClip(t, store, repository.Clip{
		Owner: "alice", Name: "secret", Path: "/data/alice/secret.clip",
	})
	if _, err := store.ResolvePlayable(ctx, "carol", "secret"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestPlaylists(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	mustCreateClip(t, store, repository.Clip{
		Owner: "alice", Name: "one", Path: "/data/alice/one.clip",
	})
	mustCreateClip(t, store, repository.Clip{
		Owner: "alice", Name: "two", Path: "/data/alice/two.clip",
	})

	if err := store.CreatePlaylist(ctx, "alice", "party"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, clip := range []string{"one", "two"} {
		if err := store.AddToPlaylist(ctx, "alice", "party", clip); err != nil {
			t.Fatalf("failed to add %q: %v", clip, err)
		}
	}

	entries, err := store.PlaylistEntries(ctx, "alice", "party")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].ClipName != "one" || entries[0].Position != 0 {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[1].ClipName != "two" || entries[1].Position != 1 {
		t.Errorf("entry 1 = %+v", entries[1])
	}

	t.Run("random pick comes from the playlist", func(t *testing.T) {
		clip, err := store.RandomPlaylistClip(ctx, "alice", "party")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if clip.Name != "one" && clip.Name != "two" {
			t.Errorf("picked %q", clip.Name)
		}
	})

	t.Run("adding an absent clip reports not found", func(t *testing.T) {
		err := store.AddToPlaylist(ctx, "alice", "party", "ghost")
		if !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("adding the same clip twice reports a duplicate", func(t *testing.T) {
		err := store.AddToPlaylist(ctx, "alice", "party", "one")
		if !errors.Is(err, repository.ErrDuplicate) {
			t.Errorf("error = %v, want ErrDuplicate", err)
		}
	})

	t.Run("remove", func(t *testing.T) {
		if err := store.RemoveFromPlaylist(ctx, "alice", "party", "one"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		entries, err := store.PlaylistEntries(ctx, "alice", "party")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(entries) != 1 || entries[0].ClipName != "two" {
			t.Errorf("entries = %+v", entries)
		}
	})

	t.Run("deleting the playlist cascades its entries", func(t *testing.T) {
		if err := store.DeletePlaylist(ctx, "alice", "party"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := store.PlaylistEntries(ctx, "alice", "party"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestPendingShares(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	clipID := mustCreateClip(t, store, repository.Clip{
		Owner: "alice", Name: "airhorn", Path: "/data/alice/airhorn.clip",
	})

	if err := store.CreatePendingShare(ctx, "alice", "bob", clipID, "airhorn"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	shares, err := store.PendingSharesFor(ctx, "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(shares) != 1 || shares[0].Sender != "alice" || shares[0].SuggestedName != "airhorn" {
		t.Fatalf("shares = %+v", shares)
	}

	t.Run("only the recipient can accept", func(t *testing.T) {
		_, err := store.AcceptPendingShare(ctx, shares[0].ID, "mallory", "stolen")
		if !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("error = %v, want ErrNotFound", err)
		}
	})

	t.Run("accept clones into the recipient namespace", func(t *testing.T) {
		clone, err := store.AcceptPendingShare(ctx, shares[0].ID, "bob", "klaxon")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if clone.Owner != "bob" || clone.Name != "klaxon" {
			t.Errorf("clone = %+v", clone)
		}
		if clone.Visibility != repository.VisibilityPrivate {
			t.Errorf("clone visibility = %q, want private", clone.Visibility)
		}
		// Both rows now reference the same file.
		if clone.Path != "/data/alice/airhorn.clip" {
			t.Errorf("clone path = %q", clone.Path)
		}
	})

	t.Run("shared file survives one owner deleting", func(t *testing.T) {
		orphan, err := store.DeleteClip(ctx, "alice", "airhorn")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if orphan != "" {
			t.Errorf("orphan = %q while bob still references the file", orphan)
		}
		orphan, err = store.DeleteClip(ctx, "bob", "klaxon")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if orphan != "/data/alice/airhorn.clip" {
			t.Errorf("orphan = %q, want the shared path", orphan)
		}
	})

	t.Run("accepted share is consumed", func(t *testing.T) {
		remaining, err := store.PendingSharesFor(ctx, "bob")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(remaining) != 0 {
			t.Errorf("shares = %+v, want none", remaining)
		}
	})
}

func TestRejectPendingShare(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	clipID := mustCreateClip(t, store, repository.Clip{
		Owner: "alice", Name: "airhorn", Path: "/data/alice/airhorn.clip",
	})
	if err := store.CreatePendingShare(ctx, "alice", "bob", clipID, "airhorn"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	shares, err := store.PendingSharesFor(ctx, "bob")
	if err != nil || len(shares) != 1 {
		t.Fatalf("shares = %+v, err = %v", shares, err)
	}

	if err := store.RejectPendingShare(ctx, shares[0].ID, "bob"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.RejectPendingShare(ctx, shares[0].ID, "bob"); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("second reject error = %v, want ErrNotFound", err)
	}
}

func TestMenus(t *testing.T) {
	store := newTestStore(t)
	ctx := t.Context()

	if _, err := store.MenuPage(ctx, 999); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if _, err := store.MenuEntry(ctx, 999, 0); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}
