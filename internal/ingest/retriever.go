package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"time"
)

// HTTPRetriever downloads remote media over plain HTTP into destDir. More
// capable backends (stream extractors, CDN fetchers) can replace it behind
// the Retriever interface.
type HTTPRetriever struct {
	client  *http.Client
	destDir string
}

func NewHTTPRetriever(destDir string, timeout time.Duration) *HTTPRetriever {
	return &HTTPRetriever{
		client:  &http.Client{Timeout: timeout},
		destDir: destDir,
	}
}

func (r *HTTPRetriever) Fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	name := path.Base(req.URL.Path)
	if name == "" || name == "/" || name == "." {
		name = "remote_media"
	}

	tmp, err := os.CreateTemp(r.destDir, "fetch_*_"+name)
	if err != nil {
		return "", err
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}
