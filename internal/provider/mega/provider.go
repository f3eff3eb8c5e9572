// Package mega retrieves public MEGA file links anonymously.
//
// A public link carries the file handle and a 256-bit key. The key is folded
// into the AES-128 file key and CTR nonce, the API is asked for a temporary
// download URL plus encrypted attributes (which hold the file name), and the
// download is decrypted while streaming to disk.
package mega

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const defaultAPIURL = "https://g.api.mega.co.nz/cs"

// Config controls the MEGA client.
type Config struct {
	APIURL    string
	UserAgent string
	// Timeout bounds the API call.
	Timeout time.Duration
	// DownloadTimeout bounds the file transfer. Defaults to 15 minutes.
	DownloadTimeout time.Duration
	HTTPClient      *http.Client
}

// APIError is a negative status code returned by the MEGA API.
type APIError struct {
	Code int
}

func (e *APIError) Error() string {
	switch e.Code {
	case -2:
		return "mega api: bad arguments (-2)"
	case -9:
		return "mega api: object not found (-9)"
	case -16:
		return "mega api: object blocked (-16)"
	case -17, -18:
		return fmt.Sprintf("mega api: temporarily unavailable (%d)", e.Code)
	default:
		return fmt.Sprintf("mega api: error %d", e.Code)
	}
}

// Provider implements chapter.Provider for mega.nz links.
type Provider struct {
	cfg    Config
	client *http.Client
	seq    atomic.Uint64
	logger *zap.Logger
}

// New builds a Provider.
func New(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = 15 * time.Minute
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	p := &Provider{cfg: cfg, client: client, logger: logger}
	p.seq.Store(uint64(time.Now().UnixNano() % 1_000_000))
	return p
}

// Name identifies the provider in logs.
func (p *Provider) Name() string {
	return "mega"
}

// Matches accepts mega.nz and mega.co.nz file links.
func (p *Provider) Matches(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, domain := range []string{"mega.nz", "mega.co.nz"} {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// Retrieve downloads the file behind link into dir and returns its name.
func (p *Provider) Retrieve(ctx context.Context, link string, dir string) (string, error) {
	handle, rawKey, err := ParseLink(link)
	if err != nil {
		return "", err
	}
	fileKey, iv, err := splitKey(rawKey)
	if err != nil {
		return "", err
	}

	info, err := p.fileInfo(ctx, handle)
	if err != nil {
		return "", err
	}
	name, err := decryptName(info.Attr, fileKey)
	if err != nil {
		return "", err
	}
	p.logger.Info("mega file resolved", zap.String("handle", handle), zap.String("name", name), zap.Int64("size", info.Size))

	if err := p.download(ctx, info, fileKey, iv, filepath.Join(dir, name)); err != nil {
		return "", err
	}
	return name, nil
}

// ParseLink extracts the handle and key from "https://mega.nz/file/<h>#<k>"
// or the legacy "https://mega.nz/#!<h>!<k>" form.
func ParseLink(link string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return "", "", fmt.Errorf("parse mega link: %w", err)
	}
	var handle, key string
	switch {
	case strings.HasPrefix(u.Path, "/file/"):
		handle = strings.Trim(strings.TrimPrefix(u.Path, "/file/"), "/")
		key, _, _ = strings.Cut(u.Fragment, "/")
	case strings.HasPrefix(u.Fragment, "!"):
		parts := strings.Split(u.Fragment, "!")
		if len(parts) >= 3 {
			handle, key = parts[1], parts[2]
		}
	case strings.HasPrefix(u.Path, "/folder/") || strings.HasPrefix(u.Fragment, "F!"):
		return "", "", fmt.Errorf("mega folder links are not supported: %s", link)
	}
	if handle == "" || key == "" {
		return "", "", fmt.Errorf("mega link %q has no file handle or key", link)
	}
	return handle, key, nil
}

func splitKey(encoded string) ([]byte, []byte, error) {
	raw, err := decodeB64(encoded)
	if err != nil {
		return nil, nil, fmt.Errorf("decode mega key: %w", err)
	}
	if len(raw) != 32 {
		return nil, nil, fmt.Errorf("mega key has %d bytes, want 32", len(raw))
	}
	fileKey := make([]byte, 16)
	for i := range fileKey {
		fileKey[i] = raw[i] ^ raw[i+16]
	}
	iv := make([]byte, aes.BlockSize)
	copy(iv, raw[16:24])
	return fileKey, iv, nil
}

type fileInfo struct {
	Size int64  `json:"s"`
	Attr string `json:"at"`
	URL  string `json:"g"`
	Err  int    `json:"e"`
}

func (p *Provider) fileInfo(ctx context.Context, handle string) (fileInfo, error) {
	body, err := json.Marshal([]map[string]any{{"a": "g", "g": 1, "ssl": 2, "p": handle}})
	if err != nil {
		return fileInfo{}, fmt.Errorf("marshal mega request: %w", err)
	}
	apiCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s?id=%d", p.cfg.APIURL, p.seq.Add(1))
	req, err := http.NewRequestWithContext(apiCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fileInfo{}, fmt.Errorf("build mega request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	p.setUserAgent(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return fileInfo{}, fmt.Errorf("mega api request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fileInfo{}, fmt.Errorf("mega api: unexpected status %d", resp.StatusCode)
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fileInfo{}, fmt.Errorf("read mega api response: %w", err)
	}

	var code int
	if err := json.Unmarshal(payload, &code); err == nil {
		return fileInfo{}, &APIError{Code: code}
	}
	var results []json.RawMessage
	if err := json.Unmarshal(payload, &results); err != nil || len(results) == 0 {
		return fileInfo{}, fmt.Errorf("mega api: unexpected response %q", truncate(payload))
	}
	if err := json.Unmarshal(results[0], &code); err == nil {
		return fileInfo{}, &APIError{Code: code}
	}
	var info fileInfo
	if err := json.Unmarshal(results[0], &info); err != nil {
		return fileInfo{}, fmt.Errorf("decode mega file info: %w", err)
	}
	if info.Err < 0 {
		return fileInfo{}, &APIError{Code: info.Err}
	}
	if info.URL == "" {
		return fileInfo{}, errors.New("mega api: no download url in response")
	}
	return info, nil
}

func decryptName(attr string, fileKey []byte) (string, error) {
	raw, err := decodeB64(attr)
	if err != nil {
		return "", fmt.Errorf("decode mega attributes: %w", err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", fmt.Errorf("mega attributes have invalid length %d", len(raw))
	}
	block, err := aes.NewCipher(fileKey)
	if err != nil {
		return "", fmt.Errorf("mega attribute cipher: %w", err)
	}
	plain := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(plain, raw)
	plain = bytes.TrimRight(plain, "\x00")
	if !bytes.HasPrefix(plain, []byte("MEGA{")) {
		return "", errors.New("mega attributes did not decrypt; wrong key?")
	}
	var attrs struct {
		Name string `json:"n"`
	}
	if err := json.Unmarshal(plain[len("MEGA"):], &attrs); err != nil {
		return "", fmt.Errorf("decode mega attribute json: %w", err)
	}
	name := filepath.Base(strings.TrimSpace(attrs.Name))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "", errors.New("mega attributes carry no usable file name")
	}
	return name, nil
}

func (p *Provider) download(ctx context.Context, info fileInfo, fileKey, iv []byte, dest string) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.DownloadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, info.URL, nil)
	if err != nil {
		return fmt.Errorf("build mega download request: %w", err)
	}
	p.setUserAgent(req)
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("mega download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mega download: unexpected status %d", resp.StatusCode)
	}

	block, err := aes.NewCipher(fileKey)
	if err != nil {
		return fmt.Errorf("mega content cipher: %w", err)
	}
	stream := cipher.StreamReader{S: cipher.NewCTR(block, iv), R: resp.Body}

	part := dest + ".part"
	// #nosec G304 -- dest is built from a sanitized base name inside the scratch dir.
	f, err := os.OpenFile(part, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", part, err)
	}
	n, copyErr := io.Copy(f, stream)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(part)
		return fmt.Errorf("write %s: %w", part, errors.Join(copyErr, closeErr))
	}
	if info.Size > 0 && n != info.Size {
		_ = os.Remove(part)
		return fmt.Errorf("mega download truncated: got %d of %d bytes", n, info.Size)
	}
	if err := os.Rename(part, dest); err != nil {
		return fmt.Errorf("finalize %s: %w", dest, err)
	}
	return nil
}

func (p *Provider) setUserAgent(req *http.Request) {
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}
}

func decodeB64(s string) ([]byte, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	return base64.RawURLEncoding.DecodeString(s)
}

func truncate(b []byte) string {
	const limit = 120
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
