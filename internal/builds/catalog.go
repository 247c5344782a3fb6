package builds

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/TheGojiOG/CfxSM/internal/database"
	"github.com/TheGojiOG/CfxSM/internal/logging"
	"golang.org/x/sync/singleflight"
)

// ErrInvalidVersion is returned for version strings that cannot name a folder.
var ErrInvalidVersion = errors.New("invalid build version")

var versionPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Install is one recorded install attempt
type Install struct {
	ID         int64      `json:"id"`
	Version    string     `json:"version"`
	Folder     string     `json:"folder"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Catalog owns the builds directory. Every version maps to one shared
// *Build so install state is visible to all callers.
type Catalog struct {
	dir       string
	installer Installer
	db        *database.DB

	group singleflight.Group

	mu     sync.Mutex
	builds map[string]*Build
}

// NewCatalog creates a catalog rooted at dir. installer and db may be nil.
func NewCatalog(dir string, installer Installer, db *database.DB) *Catalog {
	return &Catalog{
		dir:       filepath.Clean(dir),
		installer: installer,
		db:        db,
		builds:    make(map[string]*Build),
	}
}

// Dir returns the builds directory
func (c *Catalog) Dir() string {
	return c.dir
}

// Get returns the build for version, creating the handle on first use
func (c *Catalog) Get(version string) (*Build, error) {
	version = strings.TrimSpace(version)
	if !versionPattern.MatchString(version) || strings.Contains(version, "..") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidVersion, version)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if build, ok := c.builds[version]; ok {
		return build, nil
	}
	build := &Build{
		Version: version,
		Folder:  filepath.Join(c.dir, version),
		catalog: c,
	}
	c.builds[version] = build
	return build, nil
}

// List returns every build that is on disk or has been requested,
// newest first.
func (c *Catalog) List() ([]*Build, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read builds directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() || !versionPattern.MatchString(entry.Name()) {
			continue
		}
		if _, err := c.Get(entry.Name()); err != nil {
			continue
		}
	}

	c.mu.Lock()
	list := make([]*Build, 0, len(c.builds))
	for _, build := range c.builds {
		list = append(list, build)
	}
	c.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		return versionLess(list[j].Version, list[i].Version)
	})
	return list, nil
}

// Installs returns the most recent install attempts
func (c *Catalog) Installs(limit int) ([]Install, error) {
	if c.db == nil {
		return []Install{}, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := c.db.Query(`
		SELECT id, version, folder, status, error_message, started_at, finished_at
		FROM build_installs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	installs := []Install{}
	for rows.Next() {
		var install Install
		var finished sql.NullTime
		if err := rows.Scan(&install.ID, &install.Version, &install.Folder, &install.Status, &install.Error, &install.StartedAt, &finished); err != nil {
			return nil, err
		}
		if finished.Valid {
			install.FinishedAt = &finished.Time
		}
		installs = append(installs, install)
	}
	return installs, rows.Err()
}

func (c *Catalog) recordInstallStart(b *Build) int64 {
	logging.L().Info("build_install_started", "version", b.Version, "folder", b.Folder)
	if c.db == nil {
		return 0
	}
	result, err := c.db.Exec(`
		INSERT INTO build_installs (version, folder, status, started_at)
		VALUES (?, ?, ?, ?)
	`, b.Version, b.Folder, string(StateInstalling), time.Now().UTC())
	if err != nil {
		logging.L().Warn("build_install_record_failed", "version", b.Version, "error", err)
		return 0
	}
	id, _ := result.LastInsertId()
	return id
}

func (c *Catalog) recordInstallFinish(id int64, installErr error) {
	status := "complete"
	message := ""
	if installErr != nil {
		status = "failed"
		message = installErr.Error()
		logging.L().Error("build_install_failed", "install_id", id, "error", installErr)
	} else {
		logging.L().Info("build_install_complete", "install_id", id)
	}
	if c.db == nil || id == 0 {
		return
	}
	if _, err := c.db.Exec(`
		UPDATE build_installs
		SET status = ?, error_message = ?, finished_at = ?
		WHERE id = ?
	`, status, message, time.Now().UTC(), id); err != nil {
		logging.L().Warn("build_install_record_failed", "install_id", id, "error", err)
	}
}

// versionLess orders by the leading build number, falling back to the
// raw string for versions without one.
func versionLess(a, b string) bool {
	na, okA := leadingNumber(a)
	nb, okB := leadingNumber(b)
	switch {
	case okA && okB && na != nb:
		return na < nb
	case okA != okB:
		return !okA
	default:
		return a < b
	}
}

func leadingNumber(version string) (int, bool) {
	end := 0
	for end < len(version) && version[end] >= '0' && version[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(version[:end])
	return n, err == nil
}
