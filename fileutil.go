package lsmkv

import (
	"os"
)

// ensureDir creates dir (and any missing parents) if it does not already
// exist, per spec.md §6: DataDir is "created if absent."
func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return wrapIOError("create data dir", dir, err)
	}
	return nil
}

// readFileIfExists reads path in full, returning (nil, nil) if it does
// not exist rather than an error — used for the optional bloom sidecar,
// whose absence is not an error condition (SPEC_FULL.md §3).
func readFileIfExists(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}
