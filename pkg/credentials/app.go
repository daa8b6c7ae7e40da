package credentials

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// GitHub App constants.
const (
	maxAppID         = 999999999
	jwtLifetime      = 9 * time.Minute // GitHub caps app JWTs at 10 minutes
	jwtBackdate      = time.Minute     // tolerate clock drift
	tokenRenewMargin = 5 * time.Minute
	filePermOwnerRW  = 0o600
	filePermReadOnly = 0o400
)

// AppConfig identifies a GitHub App installation.
type AppConfig struct {
	HTTPClient     *http.Client
	BaseURL        string // defaults to https://api.github.com
	AppID          string
	KeyPath        string // absolute path to a 0600 or 0400 PEM file
	Key            []byte // PEM content; takes precedence over KeyPath
	InstallationID int64
}

// App mints installation access tokens for a GitHub App.
type App struct {
	expiry         time.Time
	httpClient     *http.Client
	key            *rsa.PrivateKey
	now            func() time.Time
	appID          string
	baseURL        string
	token          string
	installationID int64
	mu             sync.Mutex
}

// NewApp validates cfg and loads the private key.
func NewApp(cfg AppConfig) (*App, error) {
	if err := validateAppID(cfg.AppID); err != nil {
		return nil, err
	}
	if cfg.InstallationID <= 0 {
		return nil, errors.New("github app installation id is required")
	}
	pemBytes, err := loadPrivateKey(cfg.Key, cfg.KeyPath)
	if err != nil {
		return nil, err
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.github.com"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &App{
		appID:          cfg.AppID,
		installationID: cfg.InstallationID,
		key:            key,
		baseURL:        base,
		httpClient:     httpClient,
		now:            time.Now,
	}, nil
}

// Token returns a cached installation token, minting a new one when the
// cached token is close to expiry.
func (a *App) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != "" && a.now().Before(a.expiry) {
		return a.token, nil
	}

	signed, err := a.signJWT()
	if err != nil {
		return "", fmt.Errorf("failed to generate JWT: %w", err)
	}

	apiURL := fmt.Sprintf("%s/app/installations/%d/access_tokens", a.baseURL, a.installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+signed)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get installation token: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Debug("Failed to close response body", "component", "auth", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512)) //nolint:errcheck // message is informational
		return "", fmt.Errorf("failed to create installation token (status %d): %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var tokenResp struct {
		ExpiresAt time.Time `json:"expires_at"`
		Token     string    `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if tokenResp.Token == "" {
		return "", errors.New("received empty installation token")
	}

	a.token = tokenResp.Token
	a.expiry = tokenResp.ExpiresAt.Add(-tokenRenewMargin)
	slog.Info("Created installation access token", "component", "auth",
		"installation", a.installationID, "expires_at", tokenResp.ExpiresAt.Format(time.RFC3339))
	return a.token, nil
}

// Forget drops the cached installation token so the next Token mints one.
func (a *App) Forget() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token, a.expiry = "", time.Time{}
}

// signJWT builds the short-lived RS256 token that authenticates as the app.
func (a *App) signJWT() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		Issuer:    a.appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-jwtBackdate)),
		ExpiresAt: jwt.NewNumericDate(now.Add(jwtLifetime)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
}

func validateAppID(appID string) error {
	appIDNum, err := strconv.Atoi(appID)
	if err != nil {
		return fmt.Errorf("github app id must be numeric: %w", err)
	}
	if appIDNum <= 0 || appIDNum > maxAppID {
		return errors.New("github app id out of valid range")
	}
	return nil
}

// loadPrivateKey loads the private key from content or file path.
func loadPrivateKey(content []byte, keyPath string) ([]byte, error) {
	var key []byte
	switch {
	case len(content) > 0:
		key = content
	case keyPath != "":
		var err error
		key, err = readPrivateKeyFile(keyPath)
		if err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("github app private key is required")
	}

	if !bytes.Contains(key, []byte("BEGIN RSA PRIVATE KEY")) &&
		!bytes.Contains(key, []byte("BEGIN PRIVATE KEY")) {
		return nil, errors.New("private key does not appear to be a valid PEM private key")
	}
	return key, nil
}

// readPrivateKeyFile reads a key file, refusing group or world readable files.
func readPrivateKeyFile(keyPath string) ([]byte, error) {
	cleanPath := filepath.Clean(keyPath)
	if !filepath.IsAbs(cleanPath) {
		return nil, errors.New("private key path must be absolute")
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("cannot access private key file: %w", err)
	}
	if info.IsDir() {
		return nil, errors.New("private key path must be a file, not a directory")
	}
	perm := info.Mode().Perm()
	if perm != filePermOwnerRW && perm != filePermReadOnly {
		return nil, fmt.Errorf("private key file has insecure permissions %04o (must be 0600 or 0400)", perm)
	}
	return os.ReadFile(cleanPath)
}
