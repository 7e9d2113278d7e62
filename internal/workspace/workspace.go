// Package workspace materializes and confines per-run filesystem sandboxes
// under a configured root.
package workspace

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathInvalid is returned when a resolved path escapes the configured
// root — a bug or adversarial input, per spec §7 WORKSPACE_PATH_INVALID.
var ErrPathInvalid = fmt.Errorf("workspace: resolved path escapes root")

// ErrPathTraversal is returned by per-request lookups (ListFiles, ReadFile)
// on an out-of-root path, distinct from ErrPathInvalid because it maps to a
// 403 rather than an internal error.
var ErrPathTraversal = fmt.Errorf("workspace: path traversal")

// Manager provisions and confines workspaces under Root.
type Manager struct {
	Root string
}

// New returns a Manager rooted at root.
func New(root string) *Manager {
	return &Manager{Root: root}
}

// safe percent-encodes every character outside [A-Za-z0-9._-].
func safe(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
			c == '.' || c == '_' || c == '-' {
			b.WriteByte(c)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

// Path returns the absolute workspace directory for (projectID, runID),
// failing if the resolved path would not be a descendant of Root.
func (m *Manager) Path(projectID, runID string) (string, error) {
	root, err := filepath.Abs(m.Root)
	if err != nil {
		return "", fmt.Errorf("workspace: resolve root: %w", err)
	}
	p := filepath.Join(root, safe(projectID), safe(runID))
	if !isDescendant(root, p) {
		return "", ErrPathInvalid
	}
	return p, nil
}

// PrepareResult reports what Prepare did.
type PrepareResult struct {
	Entries     []string
	SourceFound bool
}

// Prepare creates the run's workspace directory. If fromRunID is set and
// its workspace exists, its contents (including any .git subtree) are
// deep-copied in before the run starts. A missing source is a soft
// condition: Prepare proceeds with an empty workspace and reports
// SourceFound=false rather than failing.
func (m *Manager) Prepare(projectID, runID, fromRunID string) (*PrepareResult, error) {
	dst, err := m.Path(projectID, runID)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: create %s: %w", dst, err)
	}

	res := &PrepareResult{}
	if fromRunID == "" {
		return res, nil
	}

	src, err := m.Path(projectID, fromRunID)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			res.SourceFound = false
			return res, nil
		}
		return nil, fmt.Errorf("workspace: stat source %s: %w", src, err)
	}

	res.SourceFound = true
	entries, err := copyTree(src, dst)
	if err != nil {
		return nil, fmt.Errorf("workspace: copy %s -> %s: %w", src, dst, err)
	}
	res.Entries = entries
	return res, nil
}

// copyTree copies every top-level entry of src into dst and returns the
// copied top-level entry names.
func copyTree(src, dst string) ([]string, error) {
	entries, err := os.ReadDir(src)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
		if err := copyPath(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
			return nil, err
		}
	}
	return names, nil
}

func copyPath(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		if err := os.MkdirAll(dst, info.Mode()); err != nil {
			return err
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := copyPath(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
				return err
			}
		}
		return nil
	}
	return copyFile(src, dst, info.Mode())
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// isDescendant reports whether p is root or a descendant of root. It checks
// whole path segments against ".." rather than a raw string prefix, so a
// percent-encoded name that merely starts with two literal dots (e.g. the
// safe-encoded form of a project id containing "../") is not mistaken for
// an actual parent-directory reference.
func isDescendant(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if filepath.IsAbs(rel) {
		return false
	}
	for _, seg := range strings.Split(rel, string(filepath.Separator)) {
		if seg == ".." {
			return false
		}
	}
	return true
}

// FileInfo is one entry of a workspace listing.
type FileInfo struct {
	RelPath string
	Bytes   int64
	Mime    string
}

// ListFiles returns every regular file under root, honoring path
// confinement on every lookup.
func (m *Manager) ListFiles(root string) ([]FileInfo, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve %s: %w", root, err)
	}

	var out []FileInfo
	err = filepath.WalkDir(absRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, FileInfo{
			RelPath: rel,
			Bytes:   info.Size(),
			Mime:    mimeGuess(rel),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("workspace: list %s: %w", root, err)
	}
	return out, nil
}

// ReadFile returns the bytes of rel resolved against root, refusing any
// path that escapes root.
func (m *Manager) ReadFile(root, rel string) ([]byte, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("workspace: resolve %s: %w", root, err)
	}
	p := filepath.Join(absRoot, rel)
	if !isDescendant(absRoot, p) {
		return nil, ErrPathTraversal
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("workspace: read %s: %w", rel, err)
	}
	return data, nil
}

var mimeByExt = map[string]string{
	".txt":  "text/plain",
	".md":   "text/markdown",
	".json": "application/json",
	".csv":  "text/csv",
	".py":   "text/x-python",
	".go":   "text/x-go",
	".html": "text/html",
	".yaml": "application/yaml",
	".yml":  "application/yaml",
}

func mimeGuess(relPath string) string {
	if mime, ok := mimeByExt[strings.ToLower(filepath.Ext(relPath))]; ok {
		return mime
	}
	return "application/octet-stream"
}
