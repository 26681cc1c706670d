package session

import (
	"path"
	"strings"

	"github.com/rescale/remotesh/internal/constants"
	"github.com/rescale/remotesh/internal/listing"
	"github.com/rescale/remotesh/internal/models"
	"github.com/rescale/remotesh/internal/transport"
)

// ListDirectory queues "ls -la" for dir. An empty dir lists the current
// path; any other dir becomes the current path and a directory_changed
// event is published before the command is queued. Relative paths are
// resolved against the current path.
func (m *Manager) ListDirectory(dir string) (models.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != models.StateConnected {
		return models.Command{}, ErrNotConnected
	}
	if dir == "" {
		dir = m.currentPath
	} else {
		dir = m.resolveLocked(dir)
		m.navigateLocked(dir)
	}
	return m.submitLocked("ls -la "+transport.QuotePath(dir), dir)
}

// NavigateUp lists the parent of the current path.
func (m *Manager) NavigateUp() (models.Command, error) {
	m.mu.Lock()
	cur := m.currentPath
	if cur == "~" && m.homePath != "" {
		cur = m.homePath
	}
	m.mu.Unlock()
	return m.ListDirectory(parentOf(cur))
}

// NavigateHome lists the login directory.
func (m *Manager) NavigateHome() (models.Command, error) {
	home := m.HomePath()
	if home == "" {
		home = constants.HomeRemotePath
	}
	return m.ListDirectory(home)
}

// DeleteFile removes p recursively with rm -rf.
func (m *Manager) DeleteFile(p string) (models.Command, error) {
	return m.submitPathCommand("rm -rf", p)
}

// CreateDirectory creates p and any missing parents.
func (m *Manager) CreateDirectory(p string) (models.Command, error) {
	return m.submitPathCommand("mkdir -p", p)
}

// Rename moves from to to.
func (m *Manager) Rename(from, to string) (models.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text := "mv " + transport.QuotePath(m.resolveLocked(from)) + " " + transport.QuotePath(m.resolveLocked(to))
	return m.submitLocked(text, m.currentPath)
}

// FileInfo queues stat for p.
func (m *Manager) FileInfo(p string) (models.Command, error) {
	return m.submitPathCommand("stat", p)
}

func (m *Manager) submitPathCommand(verb, p string) (models.Command, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitLocked(verb+" "+transport.QuotePath(m.resolveLocked(p)), m.currentPath)
}

func (m *Manager) navigateLocked(dir string) {
	if dir == m.currentPath {
		return
	}
	m.currentPath = dir
	m.bus.PublishDirectoryChanged(m.state, m.info.Target(), dir)
	m.log.Debug().Str("path", dir).Msg("Current directory changed")
}

// resolveLocked makes p absolute against the current path. Paths starting
// with "/" or "~" are returned cleaned.
func (m *Manager) resolveLocked(p string) string {
	switch {
	case strings.HasPrefix(p, "/"):
		return path.Clean(p)
	case p == "~" || strings.HasPrefix(p, "~/"):
		return cleanHomePath(p)
	default:
		base := m.currentPath
		if base == "~" || strings.HasPrefix(base, "~/") {
			return cleanHomePath(base + "/" + p)
		}
		return path.Clean(listing.JoinPath(base, p))
	}
}

func cleanHomePath(p string) string {
	rest := strings.TrimPrefix(strings.TrimPrefix(p, "~"), "/")
	if rest == "" {
		return "~"
	}
	cleaned := path.Clean(rest)
	if cleaned == "." {
		return "~"
	}
	return "~/" + cleaned
}

func parentOf(p string) string {
	switch {
	case p == "~":
		return "/"
	case strings.HasPrefix(p, "~/"):
		parent := path.Dir(strings.TrimPrefix(p, "~/"))
		if parent == "." {
			return "~"
		}
		return "~/" + parent
	default:
		return path.Dir(path.Clean("/" + strings.TrimPrefix(p, "/")))
	}
}
