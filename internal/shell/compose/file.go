package compose

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/compose-spec/compose-go/v2/cli"
)

// ResolveFile returns the absolute path of the compose file. An empty file
// selects the first of the standard compose file names found in dir.
func ResolveFile(dir, file string) (string, error) {
	if file == "" {
		for _, name := range cli.DefaultFileNames {
			candidate := filepath.Join(dir, name)
			if exists(candidate) {
				return candidate, nil
			}
		}
		return "", NewComposeError("ResolveFile", "",
			"cannot find compose file: none of "+strings.Join(cli.DefaultFileNames, ", ")+" in "+dir, ErrFileNotFound)
	}

	if !filepath.IsAbs(file) {
		file = filepath.Join(dir, file)
	}
	file = filepath.Clean(file)
	if !exists(file) {
		return "", NewComposeError("ResolveFile", "", "cannot find compose file "+file, ErrFileNotFound)
	}
	return file, nil
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
