package tree

import (
	"path"
	"strings"
)

// Path helpers shared by the FUSE (internal/fs) and NFS (internal/nfsmount)
// bridges. Paths are slash-separated and rooted at the mount.

// Clean returns the canonical rooted form of p: "/a/b", or "/" for the root.
func Clean(p string) string {
	return path.Clean("/" + p)
}

// Split returns the non-empty segments of p. The root has none.
func Split(p string) []string {
	c := Clean(p)
	if c == "/" {
		return nil
	}
	return strings.Split(c[1:], "/")
}

// Join appends name to dir.
func Join(dir, name string) string {
	if dir == "/" || dir == "" {
		return "/" + name
	}
	return dir + "/" + name
}

// validName reports whether name can be a single path segment.
func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.Contains(name, "/")
}
