// Package fetcher retrieves extract files from local paths, HTTP, and FTP
// endpoints and parses CSV, XML, and XLSX payloads as row streams.
package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/rotisserie/eris"
)

// Options configures transport behavior shared by the protocol fetchers.
type Options struct {
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	RatePerSec float64
}

// Fetcher opens one extract source, addressed by URL or local path.
type Fetcher interface {
	// Open returns the source's content. The caller must close the reader.
	Open(ctx context.Context, source string) (io.ReadCloser, error)

	// FetchToFile copies the source to a local path and returns bytes written.
	// Formats that need random access (XLSX) go through here first.
	FetchToFile(ctx context.Context, source, path string) (int64, error)
}

// New builds a fetcher that dispatches on the source's URL scheme:
// http/https, ftp, or a bare path for local files.
func New(opts Options) Fetcher {
	return &dispatcher{
		http: newHTTPFetcher(opts),
		ftp:  newFTPFetcher(opts),
		file: fileFetcher{},
	}
}

type dispatcher struct {
	http *httpFetcher
	ftp  *ftpFetcher
	file fileFetcher
}

func (d *dispatcher) Open(ctx context.Context, source string) (io.ReadCloser, error) {
	switch scheme(source) {
	case "http", "https":
		return d.http.Open(ctx, source)
	case "ftp":
		return d.ftp.Open(ctx, source)
	case "", "file":
		return d.file.Open(ctx, source)
	default:
		return nil, eris.Errorf("fetcher: unsupported scheme in %q", source)
	}
}

func (d *dispatcher) FetchToFile(ctx context.Context, source, path string) (int64, error) {
	rc, err := d.Open(ctx, source)
	if err != nil {
		return 0, err
	}
	defer rc.Close() //nolint:errcheck

	file, err := os.Create(path)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, rc)
	if err != nil {
		return n, eris.Wrap(err, "fetcher: write file")
	}
	return n, nil
}

func scheme(source string) string {
	u, err := url.Parse(source)
	if err != nil {
		return ""
	}
	// Windows drive letters parse as single-letter schemes; treat as path.
	if len(u.Scheme) == 1 {
		return ""
	}
	return u.Scheme
}

// fileFetcher serves local extract files.
type fileFetcher struct{}

func (fileFetcher) Open(_ context.Context, source string) (io.ReadCloser, error) {
	path := source
	if u, err := url.Parse(source); err == nil && u.Scheme == "file" {
		path = u.Path
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: open %s", path)
	}
	return f, nil
}
