package storage

import (
	"strings"

	"wbkfs/internal/common"
)

// BackupName returns the shadow name for a regular file name.
func BackupName(name string) string {
	return BackupPrefix + name + BackupSuffix
}

// IsBackupName reports whether name carries the backup suffix. Such files are
// never backed up themselves.
func IsBackupName(name string) bool {
	return strings.HasSuffix(name, BackupSuffix)
}

// validateEntryName checks name for an entry of the given mode. Regular files
// that may later get a shadow must leave room for the decoration.
func validateEntryName(name string, mode uint32) error {
	reserve := 0
	if mode&ModeMask == ModeFile && !IsBackupName(name) {
		reserve = BackupDecorationLen
	}
	return common.ValidateName(name, reserve)
}
