// Package identity resolves host users and derives the per-instance
// interface names built from them.
package identity

import (
	"fmt"

	"github.com/containerd/errdefs"
	"github.com/moby/sys/user"
)

// DefaultPrefix is used for interface names when no user prefix applies.
const DefaultPrefix = "cvd"

// lookupUID is replaced in tests.
var lookupUID = user.LookupUid

// UserName resolves a numeric uid to its user name.
func UserName(uid int) (string, error) {
	u, err := lookupUID(uid)
	if err != nil {
		return "", fmt.Errorf("lookup uid %d: %w: %w", uid, err, errdefs.ErrNotFound)
	}
	if u.Name == "" {
		return "", fmt.Errorf("uid %d has an empty user name: %w", uid, errdefs.ErrNotFound)
	}
	return u.Name, nil
}

// NamePrefix returns the user name for uid, or fallback when the uid cannot
// be resolved.
func NamePrefix(uid int, fallback string) string {
	name, err := UserName(uid)
	if err != nil {
		return fallback
	}
	return name
}

// GroupID resolves a group name to its numeric gid.
func GroupID(name string) (int, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, fmt.Errorf("lookup group %q: %w: %w", name, err, errdefs.ErrNotFound)
	}
	return g.Gid, nil
}
