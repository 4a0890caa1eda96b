package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// resolveRuntimeFiles checks the model file and picks the onnxruntime shared
// library for this platform when none is configured.
func resolveRuntimeFiles(modelPath, libPath string) (string, string, error) {
	absModel, err := filepath.Abs(filepath.Clean(modelPath))
	if err != nil {
		return "", "", fmt.Errorf("resolve model path: %w", err)
	}
	if _, err := os.Stat(absModel); os.IsNotExist(err) {
		return "", "", fmt.Errorf("model file not found: %s", absModel)
	}

	if libPath == "" {
		libPath = defaultLibraryPath(runtime.GOOS, runtime.GOARCH)
	}
	if _, err := os.Stat(libPath); os.IsNotExist(err) {
		return "", "", fmt.Errorf("onnxruntime library not found: %s", libPath)
	}

	return libPath, absModel, nil
}

// defaultLibraryPath follows the ./lib/onnxruntime_<arch>.<ext> layout.
func defaultLibraryPath(goos, goarch string) string {
	baseDir := "./lib/"
	libName := "onnxruntime"

	if goos == "windows" {
		return baseDir + libName + ".dll"
	}

	var ext string
	switch goos {
	case "darwin":
		ext = "dylib"
	case "linux":
		ext = "so"
	default:
		return baseDir + libName + "_amd64.so"
	}

	return fmt.Sprintf("%s%s_%s.%s", baseDir, libName, goarch, ext)
}
