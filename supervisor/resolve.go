package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/guseggert/sidecar/internal/files"
)

var ErrExecutableNotFound = errors.New("executable not found")

// ResolveExecutable finds the packaged sidecar binary called name.
// Absolute paths are used as-is. Otherwise the directory holding the current executable is checked first,
// for both the plain name and the name suffixed with the target platform (e.g. opencode-linux-amd64),
// then the working directory and its parents, then PATH.
func ResolveExecutable(name string) (string, error) {
	if filepath.IsAbs(name) {
		if isExecutableFile(name) {
			return name, nil
		}
		return "", fmt.Errorf("%w: %s", ErrExecutableNotFound, name)
	}

	candidates := candidateNames(name)

	if self, err := os.Executable(); err == nil {
		dir := filepath.Dir(self)
		for _, c := range candidates {
			p := filepath.Join(dir, c)
			if isExecutableFile(p) {
				return p, nil
			}
		}
	}

	if wd, err := os.Getwd(); err == nil {
		for _, c := range candidates {
			p, err := files.FindUp(c, wd)
			if err == nil && p != "" && isExecutableFile(p) {
				return p, nil
			}
		}
	}

	for _, c := range candidates {
		if p, err := exec.LookPath(c); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w: %s", ErrExecutableNotFound, name)
}

func candidateNames(name string) []string {
	names := []string{
		name,
		fmt.Sprintf("%s-%s-%s", name, runtime.GOOS, runtime.GOARCH),
	}
	if runtime.GOOS == "windows" {
		for _, n := range names[:2] {
			names = append(names, n+".exe")
		}
	}
	return names
}

func isExecutableFile(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return fi.Mode().Perm()&0111 != 0
}
