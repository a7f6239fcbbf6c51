package storage

import (
	"fmt"
	"path/filepath"
	"strings"
)

func localStorageFullpath(baseDir, key string) (string, error) {
	path := filepath.Join(baseDir, filepath.FromSlash(key))
	rel, err := filepath.Rel(baseDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid key '%s': must stay within %s", key, baseDir)
	}
	return path, nil
}
