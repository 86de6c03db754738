package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/secrun/secrun/config"
)

// CodeFileName is the reserved name the submitted code is written under.
// Harvest excludes it, so output listings never report the code itself.
const CodeFileName = "user_code.py"

// File permission constants
const (
	DirPermission  = 0o755
	FilePermission = 0o644
)

// InputFile is a named payload copied into a workspace before execution.
type InputFile struct {
	Name string
	Data []byte
}

// Workspace is a per-request scratch directory. The ID doubles as the
// directory name under the manager's root.
type Workspace struct {
	ID   string
	Root string
}

// FileSystem defines an interface for file system operations
type FileSystem interface {
	MkdirAll(path string, perm os.FileMode) error
	WriteFile(filename string, data []byte, perm os.FileMode) error
	ReadDir(path string) ([]os.DirEntry, error)
	RemoveAll(path string) error
}

// RealFileSystem implements FileSystem using actual file system operations
type RealFileSystem struct{}

func (RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (RealFileSystem) WriteFile(filename string, data []byte, perm os.FileMode) error {
	return os.WriteFile(filename, data, perm)
}

func (RealFileSystem) ReadDir(path string) ([]os.DirEntry, error) {
	return os.ReadDir(path)
}

func (RealFileSystem) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// Manager creates and destroys per-request workspaces under a shared root.
// Each workspace gets a freshly generated unique token, so concurrent
// requests never alias each other's directories.
type Manager struct {
	logger *zap.Logger
	root   string
	fs     FileSystem
}

// ManagerOption defines a functional option for Manager
type ManagerOption func(*Manager)

// WithFileSystem sets the FileSystem for the Manager
func WithFileSystem(fs FileSystem) ManagerOption {
	return func(m *Manager) {
		m.fs = fs
	}
}

// NewManager creates a Manager rooted at the given scratch directory.
func NewManager(logger *zap.Logger, root string, opts ...ManagerOption) *Manager {
	m := &Manager{
		logger: logger,
		root:   root,
		fs:     &RealFileSystem{},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// NewManagerFromConfig creates a Manager from the application configuration.
func NewManagerFromConfig(logger *zap.Logger, cfg *config.Config) *Manager {
	return NewManager(logger, cfg.Sandbox.WorkspaceRoot)
}

// Root returns the shared scratch directory the manager allocates under.
func (m *Manager) Root() string {
	return m.root
}

// Acquire creates a new uniquely named workspace directory.
func (m *Manager) Acquire() (*Workspace, error) {
	id := uuid.NewString()
	root := filepath.Join(m.root, id)

	if err := m.fs.MkdirAll(root, DirPermission); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}

	return &Workspace{ID: id, Root: root}, nil
}

// Populate writes the submitted code under the reserved file name and
// copies each input file into the workspace root, preserving names.
func (m *Manager) Populate(ws *Workspace, code string, inputFiles []InputFile) error {
	codePath := filepath.Join(ws.Root, CodeFileName)
	if err := m.fs.WriteFile(codePath, []byte(code), FilePermission); err != nil {
		return fmt.Errorf("failed to write code file: %w", err)
	}

	for _, file := range inputFiles {
		name, err := safeFileName(file.Name)
		if err != nil {
			return err
		}
		if err := m.fs.WriteFile(filepath.Join(ws.Root, name), file.Data, FilePermission); err != nil {
			return fmt.Errorf("failed to write input file %q: %w", name, err)
		}
	}

	return nil
}

// Harvest lists the workspace root and returns every entry except the
// reserved code file, sorted by name.
func (m *Manager) Harvest(ws *Workspace) ([]string, error) {
	entries, err := m.fs.ReadDir(ws.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspace: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Name() == CodeFileName {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	return names, nil
}

// Release recursively removes the workspace. It is a no-op on nil and safe
// to call repeatedly; removal failures are logged, never propagated, since
// cleanup is best-effort on every exit path.
func (m *Manager) Release(ws *Workspace) {
	if ws == nil {
		return
	}
	if err := m.fs.RemoveAll(ws.Root); err != nil {
		m.logger.Warn("failed to remove workspace",
			zap.String("workspace_id", ws.ID),
			zap.String("path", ws.Root),
			zap.Error(err))
	}
}

// safeFileName rejects input file names that would escape the workspace
// root, mirroring the traversal checks applied to archive extraction.
func safeFileName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("input file name must not be empty")
	}
	clean := filepath.Clean(name)
	if clean != filepath.Base(clean) || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("unsafe input file name: %s", name)
	}
	if clean == CodeFileName {
		return "", fmt.Errorf("input file name %q is reserved", CodeFileName)
	}
	return clean, nil
}
