package directory

import (
	stdpath "path"
	"strings"
)

const Separator = "/"
const RootPath = "/"

// posixJoin builds a child's absolute path as the posix join of its
// parent's absolute path and its own name.
func posixJoin(parent, name string) string {
	return stdpath.Join(parent, name)
}

// posixResolve resolves path against base the way node.js's
// path.posix.resolve(base, path) does: an absolute path (leading "/")
// is used as-is (cleaned); a relative path is joined onto base.
func posixResolve(base, path string) string {
	if strings.HasPrefix(path, Separator) {
		return stdpath.Clean(path)
	}
	return stdpath.Clean(stdpath.Join(base, path))
}

// isValidSubdirName rejects names containing the path separator, since
// such a name could not round-trip through absolutePath.
func isValidSubdirName(name string) bool {
	return name != "" && !strings.Contains(name, Separator)
}
