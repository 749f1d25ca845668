package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/term"
)

// ErrChecksumMismatch is returned when downloaded bytes do not hash to the expected digest.
var ErrChecksumMismatch = errors.New("checksum mismatch")

var checksumPattern = regexp.MustCompile(`(?i)\b([a-f0-9]{64})\b`)

const userAgent = "voxscribe/1"

// Request describes one file to fetch. SHA256 wins over ChecksumURL when both are set; with
// neither the file is stored unverified.
type Request struct {
	URL         string
	Destination string
	SHA256      string
	ChecksumURL string
}

// Fetcher downloads files atomically: bytes go to Destination+".part" and are renamed into
// place only after the checksum matched.
type Fetcher struct {
	Client   *http.Client
	Retries  int
	Backoff  time.Duration
	Progress bool
	Logger   *zap.Logger
}

func NewFetcher(logger *zap.Logger, progress bool) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		Client:   &http.Client{Timeout: 30 * time.Minute},
		Retries:  3,
		Backoff:  300 * time.Millisecond,
		Progress: progress,
		Logger:   logger,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, req Request) error {
	if strings.TrimSpace(req.URL) == "" {
		return errors.New("download URL is required")
	}
	if strings.TrimSpace(req.Destination) == "" {
		return errors.New("destination path is required")
	}

	expected := strings.ToLower(strings.TrimSpace(req.SHA256))
	if expected == "" && req.ChecksumURL != "" {
		resolved, err := f.ResolveChecksum(ctx, req.ChecksumURL, filepath.Base(req.Destination))
		if err != nil {
			return fmt.Errorf("fetch checksum: %w", err)
		}
		expected = resolved
	}

	if err := os.MkdirAll(filepath.Dir(req.Destination), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	attempts := max(f.Retries, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			f.log().Warn("retrying download", zap.Int("attempt", attempt), zap.Int("max", attempts), zap.String("url", req.URL), zap.Error(lastErr))
			if err := sleep(ctx, time.Duration(attempt)*f.Backoff); err != nil {
				return err
			}
		}

		lastErr = f.fetchOnce(ctx, req, expected)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(lastErr, ErrChecksumMismatch) {
			return lastErr
		}
	}
	return lastErr
}

// ResolveChecksum downloads a checksum listing and picks the digest for fileName, or the
// first digest when no line names the file.
func (f *Fetcher) ResolveChecksum(ctx context.Context, checksumURL, fileName string) (string, error) {
	body, err := f.get(ctx, checksumURL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	content, err := io.ReadAll(io.LimitReader(body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read checksum listing: %w", err)
	}
	return ParseChecksum(content, fileName)
}

func ParseChecksum(content []byte, fileName string) (string, error) {
	lines := strings.Split(string(content), "\n")

	var first string
	for _, line := range lines {
		match := checksumPattern.FindStringSubmatch(line)
		if len(match) < 2 {
			continue
		}
		digest := strings.ToLower(match[1])
		if fileName != "" && strings.Contains(line, fileName) {
			return digest, nil
		}
		if first == "" {
			first = digest
		}
	}

	if first == "" {
		return "", errors.New("sha256 checksum not found")
	}
	return first, nil
}

// FileSHA256 hashes the file at path.
func FileSHA256(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for checksum: %w", err)
	}
	defer file.Close()

	digest := sha256.New()
	if _, err := io.Copy(digest, file); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

// VerifyFile compares the file digest with expected. An empty expected digest always passes.
func VerifyFile(path, expected string) error {
	expected = strings.ToLower(strings.TrimSpace(expected))
	if expected == "" {
		return nil
	}

	actual, err := FileSHA256(path)
	if err != nil {
		return err
	}
	return compareDigest(expected, actual)
}

func (f *Fetcher) fetchOnce(ctx context.Context, req Request, expected string) (err error) {
	partPath := req.Destination + ".part"
	_ = os.Remove(partPath)

	out, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = out.Close()
		if err != nil {
			_ = os.Remove(partPath)
		}
	}()

	body, size, err := f.getWithSize(ctx, req.URL)
	if err != nil {
		return err
	}
	defer body.Close()

	digest := sha256.New()
	sink := io.MultiWriter(out, digest)
	bar := f.progressBar(size)
	if bar != nil {
		sink = io.MultiWriter(out, digest, bar)
	}

	started := time.Now()
	written, err := io.Copy(sink, body)
	if err != nil {
		return fmt.Errorf("download body: %w", err)
	}
	if bar != nil {
		_ = bar.Finish()
	}

	if err := out.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if expected != "" {
		if err := compareDigest(expected, hexDigest(digest)); err != nil {
			return err
		}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(partPath, req.Destination); err != nil {
		return fmt.Errorf("move temp file into destination: %w", err)
	}

	f.log().Info("download finished",
		zap.String("destination", req.Destination),
		zap.Int64("bytes", written),
		zap.Bool("verified", expected != ""),
		zap.Duration("elapsed", time.Since(started)),
	)
	return nil
}

func (f *Fetcher) get(ctx context.Context, url string) (io.ReadCloser, error) {
	body, _, err := f.getWithSize(ctx, url)
	return body, err
}

func (f *Fetcher) getWithSize(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("request %s: unexpected status code %d", url, resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}

func (f *Fetcher) progressBar(size int64) *progressbar.ProgressBar {
	if !f.Progress || size <= 0 || !term.IsTerminal(int(os.Stderr.Fd())) {
		return nil
	}
	return progressbar.NewOptions64(
		size,
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionSetWidth(20),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionClearOnFinish(),
	)
}

func (f *Fetcher) log() *zap.Logger {
	if f.Logger == nil {
		return zap.NewNop()
	}
	return f.Logger
}

func compareDigest(expected, actual string) error {
	if actual != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expected, actual)
	}
	return nil
}

func hexDigest(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
