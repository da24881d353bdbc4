package migrate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

var unsafeNameChars = regexp.MustCompile(`[^a-z0-9]+`)

// now is swapped in tests.
var now = time.Now

// slug lowercases name and joins its alphanumeric runs with underscores.
func slug(name string) string {
	return strings.Trim(unsafeNameChars.ReplaceAllString(strings.ToLower(name), "_"), "_")
}

// CreateSQLMigration writes an empty goose migration named
// <dir>/<YYYYMMDDHHMMSS>_<slug>.sql and returns its path.
func CreateSQLMigration(dir, name string) (string, error) {
	if dir == "" {
		return "", errors.New("dir is required")
	}
	s := slug(name)
	if s == "" {
		return "", fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}

	path := filepath.Join(dir, now().UTC().Format(versionLayout)+"_"+s+".sql")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration: %w", err)
	}
	defer f.Close()

	body := "-- +goose Up\n-- +goose StatementBegin\n-- " + s + "\n-- +goose StatementEnd\n\n-- +goose Down\n-- +goose StatementBegin\n-- revert " + s + "\n-- +goose StatementEnd\n"
	if _, err := f.WriteString(body); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
