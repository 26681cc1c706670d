package pathutil

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ValidateFilename rejects names that would escape the directory they are
// joined to: empty names, "." and "..", path separators and NUL bytes.
// Names taken from remote paths go through it before hitting the local disk.
func ValidateFilename(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("filename cannot be empty")
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("filename contains null byte: %q", name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("filename cannot contain path separators: %s", name)
	case name == "." || name == "..":
		return fmt.Errorf("filename cannot be %q", name)
	}
	return nil
}

// DownloadDestinations maps each remote path to a file under localDir named
// after the remote base name. When several remotes share a base name, each
// of them gets its 1-based position among the duplicates inserted before
// the extension ("out.log" -> "out_1.log", "out_2.log") so concurrent
// downloads never write the same file.
func DownloadDestinations(remotes []string, localDir string) ([]string, error) {
	names := make([]string, len(remotes))
	seen := make(map[string][]int)
	for i, r := range remotes {
		name := path.Base(strings.TrimRight(r, "/"))
		if err := ValidateFilename(name); err != nil {
			return nil, fmt.Errorf("cannot derive a local name from %q: %w", r, err)
		}
		names[i] = name
		seen[name] = append(seen[name], i)
	}

	for name, indices := range seen {
		if len(indices) <= 1 {
			continue
		}
		ext := filepath.Ext(name)
		base := name[:len(name)-len(ext)]
		for n, idx := range indices {
			names[idx] = fmt.Sprintf("%s_%d%s", base, n+1, ext)
		}
	}

	dests := make([]string, len(remotes))
	for i, name := range names {
		dests[i] = filepath.Join(localDir, name)
	}
	return dests, nil
}
