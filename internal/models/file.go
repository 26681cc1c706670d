package models

import "time"

// DirectoryMarker is the first character of a directory's permission string.
const DirectoryMarker = 'd'

// FileRecord is one entry of a parsed remote directory listing.
// Records are produced in batches and never mutated afterwards.
type FileRecord struct {
	Name        string
	Path        string // Absolute, derived from the directory context at parse time
	Permissions string // Raw mode string, e.g. "drwxr-xr-x"
	LinkCount   int
	Owner       string
	Group       string
	SizeBytes   int64
	IsDirectory bool

	// ModifiedAt is best-effort: the listing's own timestamp when it can be
	// read, otherwise the local capture time.
	ModifiedAt time.Time

	// RawModified is the timestamp text exactly as the remote tool printed it.
	RawModified string

	// LinkTarget is set for symbolic links printed as "name -> target".
	LinkTarget string
}

// IsSymlink reports whether the permission string marks a symbolic link.
func (f FileRecord) IsSymlink() bool {
	return len(f.Permissions) > 0 && f.Permissions[0] == 'l'
}
