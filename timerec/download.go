package timerec

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/publicsuffix"
)

// DefaultDriveURL is the Google Drive direct download endpoint.
const DefaultDriveURL = "https://drive.google.com/uc"

const downloadWarningCookie = "download_warning"

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Downloader struct {
	BaseURL    string
	HTTPClient httpDoer
}

// NewDownloader returns a downloader with its own cookie jar, which the
// Drive confirm step depends on.
func NewDownloader() (*Downloader, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return &Downloader{
		BaseURL:    DefaultDriveURL,
		HTTPClient: &http.Client{Jar: jar, Timeout: 5 * time.Minute},
	}, nil
}

// Download fetches the gzip'd snapshot with the given Drive file id and
// unpacks it to dest. dest is replaced only after a complete download.
func (d *Downloader) Download(ctx context.Context, fileID, dest string) error {
	fileID = strings.TrimSpace(fileID)
	if fileID == "" {
		return errors.New("snapshot file id is required")
	}

	resp, err := d.get(ctx, url.Values{"export": {"download"}, "id": {fileID}})
	if err != nil {
		return err
	}

	if token := confirmToken(resp); token != "" {
		_ = resp.Body.Close()
		log.WithField("file_id", fileID).Debug("drive asked for download confirmation")
		resp, err = d.get(ctx, url.Values{"export": {"download"}, "id": {fileID}, "confirm": {token}})
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	return unpack(resp.Body, dest)
}

func (d *Downloader) get(ctx context.Context, query url.Values) (*http.Response, error) {
	endpoint := strings.TrimRight(d.BaseURL, "/") + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download snapshot: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("download snapshot failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

func confirmToken(resp *http.Response) string {
	for _, cookie := range resp.Cookies() {
		if strings.HasPrefix(cookie.Name, downloadWarningCookie) {
			return cookie.Value
		}
	}
	return ""
}

func unpack(body io.Reader, dest string) error {
	reader, err := gzip.NewReader(body)
	if err != nil {
		return fmt.Errorf("snapshot is not gzip data: %w", err)
	}
	defer reader.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, reader); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("unpack snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("replace snapshot %s: %w", dest, err)
	}
	return nil
}
