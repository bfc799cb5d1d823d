// Package imagestore holds the backends captured tile images are written to.
package imagestore

import (
	"fmt"
	"path"
	"strings"
)

// cleanKey validates an image key and returns its canonical form. Keys are
// relative slash-separated paths; anything that could escape the store root
// is rejected.
func cleanKey(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("empty image key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("invalid image key %q", key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid image key %q", key)
	}
	return cleaned, nil
}
