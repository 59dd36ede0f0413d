package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// isUniqueViolation reports whether err is a postgres unique or
// primary key constraint failure.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

const clipColumns = `c.id, c.owner_identity, c.name, f.path, f.byte_size, f.duration_secs, c.visibility`

func scanClip(row pgx.Row) (*Clip, error) {
	var c Clip
	err := row.Scan(&c.ID, &c.Owner, &c.Name, &c.Path, &c.ByteSize, &c.DurationSecs, &c.Visibility)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan clip: %w", err)
	}
	return &c, nil
}

func collectClips(rows pgx.Rows) ([]Clip, error) {
	defer rows.Close()
	var clips []Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, err
		}
		clips = append(clips, *c)
	}
	return clips, rows.Err()
}

func (s *PostgresStore) Register(ctx context.Context, identity string) error {
	const query = `
	INSERT INTO account (identity)
	VALUES ($1)
	ON CONFLICT (identity) DO NOTHING
	`
	if _, err := s.db.Exec(ctx, query, identity); err != nil {
		return fmt.Errorf("failed to register account: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateClip(ctx context.Context, clip Clip) (int64, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var fileID int64
	const fileQuery = `
	INSERT INTO clip_file (path, byte_size, duration_secs, ref_count)
	VALUES ($1, $2, $3, 1)
	RETURNING id
	`
	if err := tx.QueryRow(ctx, fileQuery, clip.Path, clip.ByteSize, clip.DurationSecs).Scan(&fileID); err != nil {
		return 0, fmt.Errorf("failed to insert clip file: %w", err)
	}

	var clipID int64
	const clipQuery = `
	INSERT INTO clip (owner_identity, name, file_id, visibility)
	VALUES ($1, $2, $3, $4)
	RETURNING id
	`
	visibility := clip.Visibility
	if visibility == "" {
		visibility = VisibilityPrivate
	}
	if err := tx.QueryRow(ctx, clipQuery, clip.Owner, clip.Name, fileID, visibility).Scan(&clipID); err != nil {
		return 0, fmt.Errorf("failed to insert clip: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return clipID, nil
}

func (s *PostgresStore) ClipByOwnerName(ctx context.Context, owner, name string) (*Clip, error) {
	const query = `
	SELECT ` + clipColumns + `
	FROM clip c JOIN clip_file f ON f.id = c.file_id
	WHERE c.owner_identity = $1 AND lower(c.name) = lower($2)
	`
	return scanClip(s.db.QueryRow(ctx, query, owner, name))
}

func (s *PostgresStore) ClipByID(ctx context.Context, id int64) (*Clip, error) {
	const query = `
	SELECT ` + clipColumns + `
	FROM clip c JOIN clip_file f ON f.id = c.file_id
	WHERE c.id = $1
	`
	return scanClip(s.db.QueryRow(ctx, query, id))
}

func (s *PostgresStore) ClipsByOwner(ctx context.Context, owner string) ([]Clip, error) {
	const query = `
	SELECT ` + clipColumns + `
	FROM clip c JOIN clip_file f ON f.id = c.file_id
	WHERE c.owner_identity = $1
	ORDER BY lower(c.name)
	`
	rows, err := s.db.Query(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list clips: %w", err)
	}
	return collectClips(rows)
}

func (s *PostgresStore) CountClips(ctx context.Context, owner string) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `SELECT count(*) FROM clip WHERE owner_identity = $1`, owner).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count clips: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ClipExists(ctx context.Context, owner, name string) (bool, error) {
	var exists bool
	const query = `
	SELECT EXISTS (
		SELECT 1 FROM clip WHERE owner_identity = $1 AND lower(name) = lower($2)
	)
	`
	if err := s.db.QueryRow(ctx, query, owner, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check clip existence: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) RenameClip(ctx context.Context, owner, oldName, newName string) error {
	const query = `
	UPDATE clip SET name = $3
	WHERE owner_identity = $1 AND lower(name) = lower($2)
	`
	tag, err := s.db.Exec(ctx, query, owner, oldName, newName)
	if err != nil {
		return fmt.Errorf("failed to rename clip: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteClip(ctx context.Context, owner, name string) (string, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var fileID int64
	const deleteQuery = `
	DELETE FROM clip
	WHERE owner_identity = $1 AND lower(name) = lower($2)
	RETURNING file_id
	`
	if err := tx.QueryRow(ctx, deleteQuery, owner, name).Scan(&fileID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to delete clip: %w", err)
	}

	var refCount int
	var path string
	const decrementQuery = `
	UPDATE clip_file SET ref_count = ref_count - 1
	WHERE id = $1
	RETURNING ref_count, path
	`
	if err := tx.QueryRow(ctx, decrementQuery, fileID).Scan(&refCount, &path); err != nil {
		return "", fmt.Errorf("failed to decrement reference count: %w", err)
	}

	orphanPath := ""
	if refCount <= 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM clip_file WHERE id = $1`, fileID); err != nil {
			return "", fmt.Errorf("failed to delete clip file row: %w", err)
		}
		orphanPath = path
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}
	return orphanPath, nil
}

func (s *PostgresStore) SetVisibility(ctx context.Context, owner, name string, v Visibility) error {
	const query = `
	UPDATE clip SET visibility = $3
	WHERE owner_identity = $1 AND lower(name) = lower($2)
	`
	tag, err := s.db.Exec(ctx, query, owner, name, v)
	if err != nil {
		return fmt.Errorf("failed to set visibility: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) PublicClips(ctx context.Context) ([]Clip, error) {
	const query = `
	SELECT ` + clipColumns + `
	FROM clip c JOIN clip_file f ON f.id = c.file_id
	WHERE c.visibility = 'public'
	ORDER BY lower(c.name)
	`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list public clips: %w", err)
	}
	return collectClips(rows)
}

func (s *PostgresStore) ResolvePlayable(ctx context.Context, requester, name string) (*Clip, error) {
	// Own namespace wins, then clips reachable through the requester's
	// playlists, then the public namespace and public playlists.
	const query = `
	SELECT ` + clipColumns + `, priority FROM (
		SELECT ` + clipColumns + `, 0 AS priority
		FROM clip c JOIN clip_file f ON f.id = c.file_id
		WHERE c.owner_identity = $1 AND lower(c.name) = lower($2)
		UNION ALL
		SELECT ` + clipColumns + `, 1 AS priority
		FROM clip c
		JOIN clip_file f ON f.id = c.file_id
		JOIN playlist_entry pe ON pe.clip_id = c.id
		JOIN playlist p ON p.id = pe.playlist_id
		WHERE p.owner_identity = $1 AND lower(c.name) = lower($2)
		UNION ALL
		SELECT ` + clipColumns + `, 2 AS priority
		FROM clip c JOIN clip_file f ON f.id = c.file_id
		WHERE c.visibility = 'public' AND lower(c.name) = lower($2)
		UNION ALL
		SELECT ` + clipColumns + `, 3 AS priority
		FROM clip c
		JOIN clip_file f ON f.id = c.file_id
		JOIN playlist_entry pe ON pe.clip_id = c.id
		JOIN playlist p ON p.id = pe.playlist_id
		WHERE p.is_public AND lower(c.name) = lower($2)
	) candidates
	ORDER BY priority
	LIMIT 1
	`
	var c Clip
	var priority int
	err := s.db.QueryRow(ctx, query, requester, name).Scan(
		&c.ID, &c.Owner, &c.Name, &c.Path, &c.ByteSize, &c.DurationSecs, &c.Visibility, &priority,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve clip: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) CreatePlaylist(ctx context.Context, owner, name string) error {
	const query = `INSERT INTO playlist (owner_identity, name) VALUES ($1, $2)`
	if _, err := s.db.Exec(ctx, query, owner, name); err != nil {
		return fmt.Errorf("failed to create playlist: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeletePlaylist(ctx context.Context, owner, name string) error {
	const query = `DELETE FROM playlist WHERE owner_identity = $1 AND lower(name) = lower($2)`
	tag, err := s.db.Exec(ctx, query, owner, name)
	if err != nil {
		return fmt.Errorf("failed to delete playlist: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Playlists(ctx context.Context, owner string) ([]Playlist, error) {
	const query = `
	SELECT id, owner_identity, name, is_public
	FROM playlist
	WHERE owner_identity = $1
	ORDER BY lower(name)
	`
	rows, err := s.db.Query(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list playlists: %w", err)
	}
	defer rows.Close()

	var playlists []Playlist
	for rows.Next() {
		var p Playlist
		if err := rows.Scan(&p.ID, &p.Owner, &p.Name, &p.Public); err != nil {
			return nil, fmt.Errorf("failed to scan playlist: %w", err)
		}
		playlists = append(playlists, p)
	}
	return playlists, rows.Err()
}

func (s *PostgresStore) PlaylistEntries(ctx context.Context, owner, name string) ([]PlaylistEntry, error) {
	const query = `
	SELECT pe.clip_id, c.name, pe.position
	FROM playlist_entry pe
	JOIN playlist p ON p.id = pe.playlist_id
	JOIN clip c ON c.id = pe.clip_id
	WHERE p.owner_identity = $1 AND lower(p.name) = lower($2)
	ORDER BY pe.position
	`
	rows, err := s.db.Query(ctx, query, owner, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list playlist entries: %w", err)
	}
	defer rows.Close()

	var entries []PlaylistEntry
	for rows.Next() {
		var e PlaylistEntry
		if err := rows.Scan(&e.ClipID, &e.ClipName, &e.Position); err != nil {
			return nil, fmt.Errorf("failed to scan playlist entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) AddToPlaylist(ctx context.Context, owner, playlist, clip string) error {
	const query = `
	INSERT INTO playlist_entry (playlist_id, clip_id, position)
	SELECT p.id, c.id, COALESCE((
		SELECT max(position) + 1 FROM playlist_entry WHERE playlist_id = p.id
	), 0)
	FROM playlist p, clip c
	WHERE p.owner_identity = $1 AND lower(p.name) = lower($2)
	  AND c.owner_identity = $1 AND lower(c.name) = lower($3)
	`
	tag, err := s.db.Exec(ctx, query, owner, playlist, clip)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to add to playlist: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) RemoveFromPlaylist(ctx context.Context, owner, playlist, clip string) error {
	const query = `
	DELETE FROM playlist_entry pe
	USING playlist p, clip c
	WHERE pe.playlist_id = p.id AND pe.clip_id = c.id
	  AND p.owner_identity = $1 AND lower(p.name) = lower($2)
	  AND lower(c.name) = lower($3)
	`
	tag, err := s.db.Exec(ctx, query, owner, playlist, clip)
	if err != nil {
		return fmt.Errorf("failed to remove from playlist: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MovePlaylistEntry(ctx context.Context, owner, playlist, clip string, position int) error {
	const query = `
	UPDATE playlist_entry pe
	SET position = $4
	FROM playlist p, clip c
	WHERE pe.playlist_id = p.id AND pe.clip_id = c.id
	  AND p.owner_identity = $1 AND lower(p.name) = lower($2)
	  AND lower(c.name) = lower($3)
	`
	tag, err := s.db.Exec(ctx, query, owner, playlist, clip, position)
	if err != nil {
		return fmt.Errorf("failed to move playlist entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) RandomPlaylistClip(ctx context.Context, requester, playlist string) (*Clip, error) {
	// The requester's own playlist wins over a public one of the same
	// name, mirroring ResolvePlayable.
	const query = `
	SELECT ` + clipColumns + `
	FROM clip c
	JOIN clip_file f ON f.id = c.file_id
	JOIN playlist_entry pe ON pe.clip_id = c.id
	JOIN playlist p ON p.id = pe.playlist_id
	WHERE lower(p.name) = lower($2) AND (p.owner_identity = $1 OR p.is_public)
	ORDER BY (p.owner_identity = $1) DESC, random()
	LIMIT 1
	`
	return scanClip(s.db.QueryRow(ctx, query, requester, playlist))
}

func (s *PostgresStore) CreatePendingShare(ctx context.Context, sender, recipient string, clipID int64, suggested string) error {
	const query = `
	INSERT INTO pending_share (sender_identity, recipient_identity, clip_id, suggested_name)
	VALUES ($1, $2, $3, $4)
	`
	if _, err := s.db.Exec(ctx, query, sender, recipient, clipID, suggested); err != nil {
		return fmt.Errorf("failed to create pending share: %w", err)
	}
	return nil
}

func (s *PostgresStore) PendingSharesFor(ctx context.Context, recipient string) ([]PendingShare, error) {
	const query = `
	SELECT id, sender_identity, recipient_identity, clip_id, suggested_name, created_at
	FROM pending_share
	WHERE recipient_identity = $1
	ORDER BY created_at
	`
	rows, err := s.db.Query(ctx, query, recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending shares: %w", err)
	}
	defer rows.Close()

	var shares []PendingShare
	for rows.Next() {
		var sh PendingShare
		if err := rows.Scan(&sh.ID, &sh.Sender, &sh.Recipient, &sh.ClipID, &sh.SuggestedName, &sh.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pending share: %w", err)
		}
		shares = append(shares, sh)
	}
	return shares, rows.Err()
}

func (s *PostgresStore) AcceptPendingShare(ctx context.Context, shareID int64, recipient, alias string) (*Clip, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var clipID int64
	const shareQuery = `
	DELETE FROM pending_share
	WHERE id = $1 AND recipient_identity = $2
	RETURNING clip_id
	`
	if err := tx.QueryRow(ctx, shareQuery, shareID, recipient).Scan(&clipID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to claim pending share: %w", err)
	}

	var fileID int64
	if err := tx.QueryRow(ctx, `SELECT file_id FROM clip WHERE id = $1`, clipID).Scan(&fileID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load shared clip: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE clip_file SET ref_count = ref_count + 1 WHERE id = $1`, fileID); err != nil {
		return nil, fmt.Errorf("failed to increment reference count: %w", err)
	}

	const cloneQuery = `
	INSERT INTO clip (owner_identity, name, file_id, visibility)
	VALUES ($1, $2, $3, 'private')
	RETURNING id
	`
	var newID int64
	if err := tx.QueryRow(ctx, cloneQuery, recipient, alias, fileID).Scan(&newID); err != nil {
		return nil, fmt.Errorf("failed to clone clip: %w", err)
	}

	var clip Clip
	const resultQuery = `
	SELECT ` + clipColumns + `
	FROM clip c JOIN clip_file f ON f.id = c.file_id
	WHERE c.id = $1
	`
	if err := tx.QueryRow(ctx, resultQuery, newID).Scan(
		&clip.ID, &clip.Owner, &clip.Name, &clip.Path, &clip.ByteSize, &clip.DurationSecs, &clip.Visibility,
	); err != nil {
		return nil, fmt.Errorf("failed to load accepted clip: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &clip, nil
}

func (s *PostgresStore) RejectPendingShare(ctx context.Context, shareID int64, recipient string) error {
	const query = `DELETE FROM pending_share WHERE id = $1 AND recipient_identity = $2`
	tag, err := s.db.Exec(ctx, query, shareID, recipient)
	if err != nil {
		return fmt.Errorf("failed to reject pending share: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MenuPage(ctx context.Context, id int64) (*MenuPage, error) {
	var page MenuPage
	const pageQuery = `
	SELECT id, COALESCE(parent_id, 0), title FROM menu_page WHERE id = $1
	`
	err := s.db.QueryRow(ctx, pageQuery, id).Scan(&page.ID, &page.ParentID, &page.Title)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load menu page: %w", err)
	}

	const entryQuery = `
	SELECT slot, kind, ref_id, label
	FROM menu_entry
	WHERE page_id = $1
	ORDER BY slot
	`
	rows, err := s.db.Query(ctx, entryQuery, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load menu entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e MenuEntry
		if err := rows.Scan(&e.Slot, &e.Kind, &e.RefID, &e.Label); err != nil {
			return nil, fmt.Errorf("failed to scan menu entry: %w", err)
		}
		page.Entries = append(page.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &page, nil
}

func (s *PostgresStore) MenuEntry(ctx context.Context, pageID int64, slot int) (*MenuEntry, error) {
	var e MenuEntry
	const query = `
	SELECT slot, kind, ref_id, label
	FROM menu_entry
	WHERE page_id = $1 AND slot = $2
	`
	err := s.db.QueryRow(ctx, query, pageID, slot).Scan(&e.Slot, &e.Kind, &e.RefID, &e.Label)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load menu entry: %w", err)
	}
	return &e, nil
}
