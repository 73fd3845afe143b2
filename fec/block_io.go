package fec

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// writeBlockFile writes data to transferDir/<blockID>, creating transferDir
// if needed. Rewriting the same block file on retry is explicitly
// idempotent per spec, so this always truncates and overwrites.
func writeBlockFile(transferDir string, blockID uint32, data []byte) error {
	if err := os.MkdirAll(transferDir, 0o755); err != nil {
		return fmt.Errorf("fec: create temp dir %s: %w", transferDir, err)
	}
	path := filepath.Join(transferDir, strconv.FormatUint(uint64(blockID), 10))
	tmp := path + ".partial"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("fec: write block file %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("fec: finalize block file %s: %w", path, err)
	}
	return nil
}

// BlockFilePath returns the path a decoded block is written to.
func BlockFilePath(transferDir string, blockID uint32) string {
	return filepath.Join(transferDir, strconv.FormatUint(uint64(blockID), 10))
}
