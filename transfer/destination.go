package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// UniquePath returns a path under dir for filename, appending " 2", " 3",
// … before the extension until no file exists at that path (§6
// "Filesystem").
func UniquePath(dir, filename string) string {
	candidate := filepath.Join(dir, filename)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}

	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	for i := 2; ; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s %d%s", stem, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// partialPath returns the sibling ".part" path used while a download is
// in flight; the destination file is created under this name and renamed
// into place once every fork has been written (§3 "reserved → partial →
// final").
func partialPath(final string) string {
	return final + ".part"
}
