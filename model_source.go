package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// resolveModel returns a local path for the model artifact. http(s) sources
// are fetched into dir; anything else is treated as a file path.
func resolveModel(ctx context.Context, client *http.Client, src, dir string) (string, error) {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		absPath, err := filepath.Abs(filepath.Clean(src))
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path for model: %w", err)
		}
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("model file not found: %s: %w", absPath, err)
		}
		return absPath, nil
	}

	u, err := url.Parse(src)
	if err != nil {
		return "", fmt.Errorf("invalid model url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch model: unexpected status %s", resp.Status)
	}

	name := path.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = "model.onnx"
	}
	dest := filepath.Join(dir, name)
	if err := extractFile(resp.Body, dest); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("save model: %w", err)
	}
	return dest, nil
}

// extractFile is a helper function to extract a file
func extractFile(src io.Reader, destPath string) error {
	outFile, err := os.Create(destPath)
	if err != nil {
		return err
	}
	defer outFile.Close()

	if _, err := io.Copy(outFile, src); err != nil {
		return err
	}
	return outFile.Close()
}
