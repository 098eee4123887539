// Package providers - Utility functions.
package providers

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
)

// LibraryPathEnv names the environment variable that overrides the ONNX
// Runtime shared library location.
const LibraryPathEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// GetSharedLibPath returns the path to the shared library for the current platform.
//
// Arguments:
//   - override: An explicit path. It wins over the environment and the
//     platform default when non-empty.
//
// Returns:
//   - string: The path to the shared library.
//   - error: An error if no library is known for this platform.
func GetSharedLibPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if env := os.Getenv(LibraryPathEnv); env != "" {
		return env, nil
	}

	dir := "third_party"
	switch runtime.GOOS {
	case "windows":
		if runtime.GOARCH == "amd64" {
			return filepath.Join(dir, "onnxruntime.dll"), nil
		}
	case "darwin":
		return filepath.Join(dir, "libonnxruntime.dylib"), nil
	case "linux":
		if runtime.GOARCH == "arm64" {
			return filepath.Join(dir, "onnxruntime_arm64.so"), nil
		}
		return filepath.Join(dir, "onnxruntime.so"), nil
	}
	return "", errors.Errorf("no onnxruntime library known for %s/%s", runtime.GOOS, runtime.GOARCH)
}
