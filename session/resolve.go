package session

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// ResolveUnder maps a session URI onto the shared directory root. The
// authority names the shared folder and is ignored; paths that climb out of
// root are rejected.
func ResolveUnder(root, scheme string, u *url.URL) (string, error) {
	if u.Scheme != scheme {
		return "", fmt.Errorf("scheme %q is not %q", u.Scheme, scheme)
	}
	if u.Opaque != "" {
		return "", fmt.Errorf("opaque URI %q has no path", u.String())
	}

	rel := path.Clean(strings.TrimLeft(u.Path, "/"))
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %q is outside the shared root", u.Path)
	}
	if rel == "." {
		return root, nil
	}
	return filepath.Join(root, filepath.FromSlash(rel)), nil
}
