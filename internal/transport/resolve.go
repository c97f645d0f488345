package transport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ResolveScript resolves a script URI to an executable path.
//
// Supported schemes:
//   - file://name      → filepath.Join(scriptsDir, name)
//   - file:///abs/path → absolute path as-is
func ResolveScript(uri, scriptsDir string) (string, error) {
	if !strings.HasPrefix(uri, "file://") {
		return "", fmt.Errorf("unsupported script URI scheme: %s", uri)
	}
	raw := strings.TrimPrefix(uri, "file://")

	var path string
	if strings.HasPrefix(raw, "/") {
		path = raw
	} else {
		path = filepath.Join(scriptsDir, raw)
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("script not found: %s", path)
	}
	if info.IsDir() {
		return "", fmt.Errorf("script is a directory: %s", path)
	}
	if info.Mode()&0111 == 0 {
		return "", fmt.Errorf("script is not executable: %s", path)
	}

	return path, nil
}
