package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"

	"github.com/davidleathers/dnc-guard/internal/infrastructure/config"
	"github.com/davidleathers/dnc-guard/internal/infrastructure/database"
)

const migrationsDir = "migrations"

func main() {
	var (
		configPath = flag.String("config", config.DefaultConfigPath, "Path to configuration file")
		action     = flag.String("action", "up", "Migration action: up, down, status, create")
		name       = flag.String("name", "", "Migration name (for create action)")
		steps      = flag.Int("steps", 0, "Number of migrations to run (0 = all)")
	)
	flag.Parse()

	if *action == "create" {
		up, down, err := createMigration(migrationsDir, *name)
		if err != nil {
			slog.Error("failed to create migration", "error", err)
			os.Exit(1)
		}
		slog.Info("created migration", "up", up, "down", down)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	m, err := database.NewMigrator(cfg.Database.URL)
	if err != nil {
		slog.Error("failed to open migrator", "error", err)
		os.Exit(1)
	}
	defer m.Close()

	if err := runAction(m, *action, *steps); err != nil {
		slog.Error("migration failed", "action", *action, "error", err)
		os.Exit(1)
	}
}

// migrator is the subset of *migrate.Migrate the CLI drives.
type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Version() (uint, bool, error)
}

func runAction(m migrator, action string, steps int) error {
	var err error
	switch action {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	case "status":
		version, dirty, verr := m.Version()
		if errors.Is(verr, migrate.ErrNilVersion) {
			slog.Info("no migrations applied")
			return nil
		}
		if verr != nil {
			return verr
		}
		slog.Info("migration status", "version", version, "dirty", dirty)
		return nil
	default:
		return fmt.Errorf("unknown action %q", action)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		slog.Info("no migrations to apply")
		return nil
	}
	if err != nil {
		return err
	}
	slog.Info("migrations completed", "action", action)
	return nil
}

var (
	migrationFile = regexp.MustCompile(`^(\d+)_.+\.(up|down)\.sql$`)
	invalidName   = regexp.MustCompile(`[^a-z0-9_]+`)
)

// createMigration writes an empty up/down pair numbered after the highest
// existing migration in dir.
func createMigration(dir, name string) (string, string, error) {
	name = strings.Trim(invalidName.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if name == "" {
		return "", "", errors.New("migration name is required")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", fmt.Errorf("reading %s: %w", dir, err)
	}

	var versions []int
	for _, e := range entries {
		match := migrationFile.FindStringSubmatch(e.Name())
		if match == nil {
			continue
		}
		v, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	sort.Ints(versions)

	next := 1
	if len(versions) > 0 {
		next = versions[len(versions)-1] + 1
	}

	base := fmt.Sprintf("%06d_%s", next, name)
	up := filepath.Join(dir, base+".up.sql")
	down := filepath.Join(dir, base+".down.sql")
	for _, path := range []string{up, down} {
		if err := os.WriteFile(path, []byte("-- "+base+"\n"), 0o644); err != nil {
			return "", "", err
		}
	}
	return up, down, nil
}
