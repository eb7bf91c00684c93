package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/cavaliergopher/grab/v3"
)

// LatestName is the index document an update server publishes.
const LatestName = "latest.json"

// Latest is the content of latest.json.
type Latest struct {
	// Package is the archive name, relative to the server URL
	Package string `json:"package"`
}

// Download resolves the latest package published on server, stores it in dir
// and loads it. It returns the package and the path of the downloaded file.
func Download(ctx context.Context, server, dir string) (*Package, string, error) {
	base, err := url.Parse(strings.TrimSuffix(server, "/") + "/")
	if err != nil {
		return nil, "", fmt.Errorf("parse server url: %w", err)
	}

	latest, err := fetchLatest(ctx, base.ResolveReference(&url.URL{Path: LatestName}).String())
	if err != nil {
		return nil, "", err
	}

	name := path.Base(latest.Package)
	if name == "." || name == "/" {
		return nil, "", fmt.Errorf("%s: invalid package name %q", LatestName, latest.Package)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create download dir: %w", err)
	}

	src := base.ResolveReference(&url.URL{Path: latest.Package}).String()
	req, err := grab.NewRequest(dir, src)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", src, err)
	}
	req = req.WithContext(ctx)

	resp := grab.NewClient().Do(req)
	if err := resp.Err(); err != nil {
		return nil, "", fmt.Errorf("download %s: %w", src, err)
	}

	pkg, err := Open(resp.Filename)
	if err != nil {
		return nil, "", err
	}
	return pkg, resp.Filename, nil
}

func fetchLatest(ctx context.Context, src string) (*Latest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", LatestName, err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", LatestName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", LatestName, resp.Status)
	}

	var latest Latest
	if err := json.NewDecoder(resp.Body).Decode(&latest); err != nil {
		return nil, fmt.Errorf("parse %s: %w", LatestName, err)
	}
	if latest.Package == "" {
		return nil, fmt.Errorf("parse %s: package is empty", LatestName)
	}
	return &latest, nil
}
