// Package clipstore maps opaque player identities onto the on-disk
// clip library: one base directory with a private subdirectory per
// owner, plus a temp area for in-flight downloads.
package clipstore

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// aliasPattern is the full set of characters a clip alias may use.
// Aliases are matched case-insensitively everywhere.
var aliasPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,32}$`)

func ValidAlias(alias string) bool {
	return aliasPattern.MatchString(alias)
}

// Layout owns the base directory structure. It never touches paths
// outside of its base.
type Layout struct {
	base string
}

func NewLayout(base string) *Layout {
	return &Layout{base: base}
}

func (l *Layout) Base() string {
	return l.base
}

// ownerDirName flattens an opaque identity into a filesystem-safe
// directory name. Unsafe bytes are hex-escaped so distinct identities
// can never collide.
func ownerDirName(identity string) string {
	var b strings.Builder
	for i := 0; i < len(identity); i++ {
		c := identity[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02x", c)
		}
	}
	return b.String()
}

func (l *Layout) OwnerDir(identity string) string {
	return filepath.Join(l.base, ownerDirName(identity))
}

// EnsureOwnerDir creates the owner's directory if it does not exist.
func (l *Layout) EnsureOwnerDir(identity string) (string, error) {
	dir := l.OwnerDir(identity)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create owner directory: %w", err)
	}
	return dir, nil
}

// NewClipPath allocates a fresh path for a clip in the owner's
// directory. File names are generated, never derived from the alias:
// the alias is mutable metadata and a rename must not move bytes on
// disk or collide with a later download under the freed name.
func (l *Layout) NewClipPath(identity string) (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return filepath.Join(l.OwnerDir(identity), id.String()+".clip"), nil
}

// TempDir is where fetch workers write before a download is accepted
// into the library.
func (l *Layout) TempDir() string {
	return filepath.Join(l.base, ".tmp")
}

// NewTempPath allocates a unique destination for an in-flight download.
func (l *Layout) NewTempPath() (string, error) {
	if err := os.MkdirAll(l.TempDir(), 0o755); err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return filepath.Join(l.TempDir(), id.String()+".part"), nil
}

// SidecarPath is where a fetch worker leaves its error text for a
// given destination path.
func SidecarPath(dest string) string {
	return dest + ".err"
}
