// Package marker reads and writes exit-marker files. A marker is a plain
// decimal exit code at <dir>/<agentID>; it appears atomically through a
// rename from <dir>/<agentID>.tmp, and its absence means "still running".
package marker

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// TempSuffix is appended to a marker path for the pre-rename file.
const TempSuffix = ".tmp"

// Path returns the marker path of agentID inside dir.
func Path(dir, agentID string) string {
	return filepath.Join(dir, agentID)
}

// Write records code at path via path+TempSuffix and an atomic rename.
func Write(path string, code int) error {
	tmp := path + TempSuffix
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(code)+"\n"), 0o600); err != nil {
		return fmt.Errorf("write marker temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename marker %s: %w", path, err)
	}
	return nil
}

// Read returns the exit code stored at path. found is false, with a nil
// error, when the marker does not exist yet. Unparsable content reads as 1.
func Read(path string) (code int, found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return Parse(data), true, nil
}

// Parse decodes marker content, defaulting to 1.
func Parse(data []byte) int {
	code, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 1
	}
	return code
}
