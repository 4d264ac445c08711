package catalog

import (
	"archive/zip"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// pluginsFolder and blueprintsFolder are the artifact directories under
// the file server root.
const (
	pluginsFolder    = "plugins"
	blueprintsFolder = "blueprints"
)

// SQLiteStore implements the Client interface over a local SQLite
// database, with artifact payloads laid out under the file server root.
type SQLiteStore struct {
	db  *sql.DB
	cfg StoreConfig
}

// StoreConfig holds SQLite store configuration.
type StoreConfig struct {
	// Path is the SQLite database file path.
	Path string

	// FileServerRoot is the directory holding plugin archives, plugin
	// documents and blueprint files.
	FileServerRoot string

	// Distribution is the manager host distribution reported to
	// resolvers (e.g. "centos").
	Distribution string

	// DistroRelease is the manager host distribution release.
	DistroRelease string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg StoreConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.FileServerRoot == "" {
		return nil, fmt.Errorf("file server root is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := os.MkdirAll(filepath.Join(s.cfg.FileServerRoot, pluginsFolder), 0o755); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create plugins folder: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(s.cfg.FileServerRoot, blueprintsFolder), 0o755); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to create blueprints folder: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// ListPlugins returns all plugin candidates matching the filter.
func (s *SQLiteStore) ListPlugins(ctx context.Context, tenant string, filter PluginFilter) ([]Plugin, error) {
	query := `
		SELECT id, tenant, package_name, package_version, distribution,
		       distribution_release, archive_name, title, uploaded_at
		FROM plugins
		WHERE tenant = ?
	`
	args := []interface{}{tenant}
	if filter.PackageName != "" {
		query += " AND package_name = ?"
		args = append(args, filter.PackageName)
	}
	if filter.Distribution != "" {
		query += " AND distribution = ?"
		args = append(args, filter.Distribution)
	}
	query += " ORDER BY uploaded_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list plugins: %w", err)
	}
	defer rows.Close()

	plugins := []Plugin{}
	for rows.Next() {
		var p Plugin
		err := rows.Scan(
			&p.ID,
			&p.Tenant,
			&p.PackageName,
			&p.PackageVersion,
			&p.Distribution,
			&p.DistributionRelease,
			&p.ArchiveName,
			&p.Title,
			&p.UploadedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plugin: %w", err)
		}
		plugins = append(plugins, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plugins: %w", err)
	}

	return plugins, nil
}

// UploadPlugin stores a packaged plugin archive as a new catalog entry.
// The unique (tenant, package_name, package_version) index is what
// serializes concurrent resolvers; its violation surfaces as
// ErrConflict.
func (s *SQLiteStore) UploadPlugin(ctx context.Context, tenant string, spec UploadSpec, archive io.Reader) (*Plugin, error) {
	if spec.PackageName == "" || spec.PackageVersion == "" {
		return nil, fmt.Errorf("package name and version are required")
	}

	plugin := &Plugin{
		ID:                  uuid.New().String(),
		Tenant:              tenant,
		PackageName:         spec.PackageName,
		PackageVersion:      spec.PackageVersion,
		Distribution:        spec.Distribution,
		DistributionRelease: spec.DistributionRelease,
		ArchiveName:         spec.ArchiveName,
		Title:               spec.Title,
		UploadedAt:          time.Now().UTC(),
	}
	if plugin.ArchiveName == "" {
		plugin.ArchiveName = spec.PackageName + ".zip"
	}

	query := `
		INSERT INTO plugins (id, tenant, package_name, package_version, distribution,
		                     distribution_release, archive_name, title, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		plugin.ID,
		plugin.Tenant,
		plugin.PackageName,
		plugin.PackageVersion,
		plugin.Distribution,
		plugin.DistributionRelease,
		plugin.ArchiveName,
		plugin.Title,
		plugin.UploadedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("plugin %s %s: %w", spec.PackageName, spec.PackageVersion, ErrConflict)
		}
		return nil, fmt.Errorf("failed to insert plugin: %w", err)
	}

	if err := s.storeArchive(plugin, archive); err != nil {
		// Roll back the row so a later retry does not hit a conflict
		// for an entry with no payload on disk.
		_, _ = s.db.ExecContext(ctx, "DELETE FROM plugins WHERE id = ?", plugin.ID)
		return nil, err
	}

	return plugin, nil
}

// storeArchive writes the archive under the file server root and
// extracts the plugin documents next to it.
func (s *SQLiteStore) storeArchive(plugin *Plugin, archive io.Reader) error {
	pluginDir := filepath.Join(s.cfg.FileServerRoot, pluginsFolder, plugin.ID)
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		return fmt.Errorf("failed to create plugin folder: %w", err)
	}

	archivePath := filepath.Join(pluginDir, plugin.ArchiveName)
	f, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	if _, err := io.Copy(f, archive); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close archive: %w", err)
	}

	return extractPluginDocuments(archivePath, pluginDir)
}

// extractPluginDocuments copies the .yaml entries of the archive into
// the plugin directory so they can be served without unpacking.
func extractPluginDocuments(archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer reader.Close()

	for _, entry := range reader.File {
		name := filepath.Base(entry.Name)
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		src, err := entry.Open()
		if err != nil {
			return fmt.Errorf("failed to open archive entry %s: %w", entry.Name, err)
		}
		dst, err := os.Create(filepath.Join(destDir, name))
		if err != nil {
			_ = src.Close()
			return fmt.Errorf("failed to create document %s: %w", name, err)
		}
		_, err = io.Copy(dst, src)
		_ = src.Close()
		_ = dst.Close()
		if err != nil {
			return fmt.Errorf("failed to extract document %s: %w", name, err)
		}
	}

	return nil
}

// GetPluginYAML returns the plugin document for the given entry. When
// dslVersion is set and a matching variant exists (plugin_1_5.yaml for
// dsl version "1_5") it is preferred; otherwise the first document in
// name order is returned.
func (s *SQLiteStore) GetPluginYAML(ctx context.Context, tenant, pluginID, dslVersion string) ([]byte, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM plugins WHERE id = ? AND tenant = ?",
		pluginID, tenant,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to look up plugin %s: %w", pluginID, err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("plugin %s: %w", pluginID, ErrNotFound)
	}

	pluginDir := filepath.Join(s.cfg.FileServerRoot, pluginsFolder, pluginID)
	entries, err := filepath.Glob(filepath.Join(pluginDir, "*.y*ml"))
	if err != nil {
		return nil, fmt.Errorf("failed to scan plugin documents: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("plugin %s has no documents: %w", pluginID, ErrNotFound)
	}
	sort.Strings(entries)

	chosen := entries[0]
	if dslVersion != "" {
		marker := strings.ReplaceAll(dslVersion, ".", "_")
		for _, entry := range entries {
			if strings.Contains(filepath.Base(entry), marker) {
				chosen = entry
				break
			}
		}
	}

	data, err := os.ReadFile(chosen)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin document: %w", err)
	}
	return data, nil
}

// GetBlueprint returns blueprint metadata by id.
func (s *SQLiteStore) GetBlueprint(ctx context.Context, tenant, blueprintID string) (*Blueprint, error) {
	query := `
		SELECT id, tenant, main_file_name, state, created_at
		FROM blueprints
		WHERE tenant = ? AND id = ?
	`
	bp := &Blueprint{}
	err := s.db.QueryRowContext(ctx, query, tenant, blueprintID).Scan(
		&bp.ID,
		&bp.Tenant,
		&bp.MainFileName,
		&bp.State,
		&bp.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("blueprint %s: %w", blueprintID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blueprint: %w", err)
	}

	return bp, nil
}

// PutBlueprint records blueprint metadata. Blueprint payloads are
// placed under <root>/blueprints/<tenant>/<id>/ by the upload pipeline.
func (s *SQLiteStore) PutBlueprint(ctx context.Context, bp *Blueprint) error {
	if bp.CreatedAt.IsZero() {
		bp.CreatedAt = time.Now().UTC()
	}
	if bp.State == "" {
		bp.State = "uploaded"
	}

	query := `
		INSERT INTO blueprints (id, tenant, main_file_name, state, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, bp.ID, bp.Tenant, bp.MainFileName, bp.State, bp.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("blueprint %s: %w", bp.ID, ErrConflict)
		}
		return fmt.Errorf("failed to insert blueprint: %w", err)
	}

	return nil
}

// ManagerInfo reports the manager's own distribution and release.
func (s *SQLiteStore) ManagerInfo(_ context.Context) (*ManagerInfo, error) {
	return &ManagerInfo{
		Distribution:  s.cfg.Distribution,
		DistroRelease: s.cfg.DistroRelease,
	}, nil
}

// FileServerRoot returns the root directory of served artifacts.
func (s *SQLiteStore) FileServerRoot() string {
	return s.cfg.FileServerRoot
}

// isUniqueViolation reports whether the error is a SQLite unique
// constraint violation. The modernc driver surfaces constraint
// failures in the error text.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
