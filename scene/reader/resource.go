package reader

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// A scene document or mesh stream read from a local file or an http(s) URL.
type resource struct {
	io.ReadCloser
	url *url.URL
}

// Location of the resource as a path or URL string.
func (r *resource) Path() string {
	return r.url.String()
}

// True if the resource is fetched over http/https.
func (r *resource) IsRemote() bool {
	return r.url.Scheme != ""
}

// Open a resource stream. Paths without a scheme are resolved against the
// directory of relTo when relTo is not nil. The caller must close the
// returned resource.
func openResource(location string, relTo *resource) (*resource, error) {
	target, err := resolveResource(location, relTo)
	if err != nil {
		return nil, err
	}

	switch target.Scheme {
	case "":
		f, err := os.Open(filepath.Clean(target.Path))
		if err != nil {
			return nil, err
		}
		return &resource{ReadCloser: f, url: target}, nil
	case "http", "https":
		resp, err := http.Get(target.String())
		if err != nil {
			return nil, fmt.Errorf("resource: could not fetch %q: %w", target.String(), err)
		}
		if resp.StatusCode >= http.StatusBadRequest {
			resp.Body.Close()
			return nil, fmt.Errorf("resource: could not fetch %q: status %d", target.String(), resp.StatusCode)
		}
		return &resource{ReadCloser: resp.Body, url: target}, nil
	}
	return nil, fmt.Errorf("resource: unsupported scheme %q", target.Scheme)
}

func resolveResource(location string, relTo *resource) (*url.URL, error) {
	target, err := url.Parse(strings.ReplaceAll(location, `\`, `/`))
	if err != nil {
		return nil, err
	}
	if target.Scheme != "" || relTo == nil || path.IsAbs(target.Path) {
		return target, nil
	}

	if relTo.IsRemote() {
		return relTo.url.ResolveReference(target), nil
	}

	base, err := filepath.Abs(relTo.url.Path)
	if err != nil {
		return nil, fmt.Errorf("resource: could not resolve %q: %w", relTo.Path(), err)
	}
	return &url.URL{Path: filepath.Join(filepath.Dir(base), target.Path)}, nil
}
