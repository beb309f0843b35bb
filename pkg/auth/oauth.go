package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/harrisonrobin/wurk2do/pkg/config"
)

const (
	// ClientSecretsFile is the downloaded Google API credentials.json, read
	// from the config directory.
	ClientSecretsFile = "credentials.json"

	// TokenFile holds the user's access and refresh token, next to the client secrets.
	TokenFile = "token.json"

	// LocalhostAuthPort is the port the local web server listens on to
	// capture the OAuth redirect.
	LocalhostAuthPort = "6789"
)

// ErrNoToken means no stored token exists and the interactive flow was not allowed.
var ErrNoToken = errors.New("not signed in")

// revokeURL is the Google token revocation endpoint.
var revokeURL = "https://oauth2.googleapis.com/revoke"

// Scopes are the permissions requested at sign-in: per-app file access to
// Drive and the account email used as the encryption identity.
var Scopes = []string{
	drive.DriveFileScope,
	oauth2api.UserinfoEmailScope,
}

// GetConfig creates an oauth2.Config from the client secrets file and specified scopes.
func GetConfig(scopes []string) (*oauth2.Config, error) {
	dir, err := config.Dir()
	if err != nil {
		return nil, err
	}

	clientSecretsFile := filepath.Join(dir, ClientSecretsFile)
	b, err := os.ReadFile(clientSecretsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret file %s: %w", clientSecretsFile, err)
	}

	cfg, err := google.ConfigFromJSON(b, scopes...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}

	parsedURL, parseErr := url.Parse(cfg.RedirectURL)
	if parseErr != nil {
		log.Warnf("Could not parse RedirectURL '%s': %v. Using it as is.", cfg.RedirectURL, parseErr)
	} else if parsedURL.Hostname() == "localhost" || parsedURL.Hostname() == "127.0.0.1" {
		// The redirect must match the port net.Listen binds below.
		if parsedURL.Port() != LocalhostAuthPort {
			if parsedURL.Port() != "" {
				log.Warnf("Mismatch in localhost redirect port: credentials.json has '%s', forcing '%s'", parsedURL.Port(), LocalhostAuthPort)
			}
			parsedURL.Host = net.JoinHostPort(parsedURL.Hostname(), LocalhostAuthPort)
			cfg.RedirectURL = parsedURL.String()
		}
	} else if cfg.RedirectURL == "urn:ietf:wg:oauth:2.0:oob" {
		cfg.RedirectURL = fmt.Sprintf("http://localhost:%s/oauth2callback", LocalhostAuthPort)
		log.Debugf("Overriding 'urn:ietf:wg:oauth:2.0:oob' RedirectURL to: %s", cfg.RedirectURL)
	} else {
		log.Warnf("Configured RedirectURL in credentials.json is not a localhost callback or OOB: %s", cfg.RedirectURL)
	}

	return cfg, nil
}

// TokenPath returns the location of the stored token.
func TokenPath() (string, error) {
	dir, err := config.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, TokenFile), nil
}

// HasToken reports whether a stored token exists.
func HasToken() bool {
	path, err := TokenPath()
	if err != nil {
		return false
	}
	_, err = tokenFromFile(path)
	return err == nil
}

// GetClient retrieves an authenticated *http.Client.
// It loads the stored token and lets the oauth2 transport refresh it. When no
// token exists it runs the browser flow if interactive is set and returns
// ErrNoToken otherwise.
func GetClient(ctx context.Context, scopes []string, interactive bool) (*http.Client, error) {
	cfg, err := GetConfig(scopes)
	if err != nil {
		return nil, err
	}

	tokenFile, err := TokenPath()
	if err != nil {
		return nil, err
	}
	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		if !interactive {
			return nil, ErrNoToken
		}
		log.Infof("No existing token found at %s. Initiating web authorization flow...", tokenFile)
		tok, err = getTokenFromWeb(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to get token from web: %w", err)
		}
		if err := saveToken(tokenFile, tok); err != nil {
			return nil, err
		}
	}

	// Persist refreshed tokens so the next run starts from the latest one.
	src := &savingTokenSource{
		base: cfg.TokenSource(ctx, tok),
		path: tokenFile,
		last: tok,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, src)), nil
}

type savingTokenSource struct {
	base oauth2.TokenSource
	path string
	last *oauth2.Token
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != s.last.AccessToken || tok.RefreshToken != s.last.RefreshToken {
		log.Debug("Token was refreshed. Saving new token to file.")
		if err := saveToken(s.path, tok); err != nil {
			log.Warnf("Could not save refreshed token: %v", err)
		}
		s.last = tok
	}
	return tok, nil
}

// getTokenFromWeb runs the authorization code flow through a local web server
// that captures the redirect.
func getTokenFromWeb(ctx context.Context, cfg *oauth2.Config) (*oauth2.Token, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%s", LocalhostAuthPort))
	if err != nil {
		return nil, fmt.Errorf("failed to start listener on port %s: %w", LocalhostAuthPort, err)
	}
	defer listener.Close()

	server := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			code := r.URL.Query().Get("code")
			if code == "" {
				http.Error(w, "Authorization code not found", http.StatusBadRequest)
				select {
				case errCh <- fmt.Errorf("authorization code not found in redirect URL"):
				default:
				}
				return
			}
			fmt.Fprintf(w, "Authentication successful! You can close this window.")
			select {
			case codeCh <- code:
			default:
			}
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	go func() {
		log.Debugf("Local server listening on %s for OAuth2 redirect...", cfg.RedirectURL)
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			select {
			case errCh <- fmt.Errorf("HTTP server error: %w", err):
			default:
			}
		}
	}()
	defer server.Shutdown(context.Background())

	// AccessTypeOffline is required to get a refresh token back.
	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
	fmt.Printf("Please open the following URL in your browser to authorize wurk2do:\n%s\n", authURL)
	log.Info("Waiting for authorization code...")

	select {
	case authCode := <-codeCh:
		exchangeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		tok, err := cfg.Exchange(exchangeCtx, authCode)
		if err != nil {
			return nil, fmt.Errorf("unable to retrieve token from Google: %w", err)
		}
		return tok, nil
	case err := <-errCh:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Minute):
		return nil, fmt.Errorf("authorization timed out. Please try again")
	}
}

// tokenFromFile reads an oauth2.Token from a JSON file.
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(tok); err != nil {
		return nil, fmt.Errorf("failed to decode token from file %s: %w", file, err)
	}
	return tok, nil
}

// saveToken saves an oauth2.Token to a JSON file readable only by the owner.
func saveToken(path string, token *oauth2.Token) error {
	log.Debugf("Saving authentication token to: %s", path)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("could not create token directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache OAuth token to %s: %w", path, err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// GetDriveService creates an authenticated Drive service along with the
// client it was built on.
func GetDriveService(ctx context.Context, interactive bool) (*drive.Service, *http.Client, error) {
	client, err := GetClient(ctx, Scopes, interactive)
	if err != nil {
		return nil, nil, err
	}
	srv, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, nil, fmt.Errorf("unable to retrieve Drive service: %w", err)
	}
	return srv, client, nil
}

// FetchIdentity returns the signed-in account's email address.
func FetchIdentity(ctx context.Context, client *http.Client, opts ...option.ClientOption) (string, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	srv, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("unable to retrieve userinfo service: %w", err)
	}
	info, err := srv.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("unable to fetch account email: %w", err)
	}
	if info.Email == "" {
		return "", fmt.Errorf("account has no email address")
	}
	return info.Email, nil
}

// SignOut revokes the stored token at Google and deletes it locally. A failed
// revocation is logged; the local token is removed either way.
func SignOut(ctx context.Context, client *http.Client) error {
	path, err := TokenPath()
	if err != nil {
		return err
	}
	tok, err := tokenFromFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		log.Warnf("Could not read token for revocation: %v", err)
	} else if err := revoke(ctx, client, tok); err != nil {
		log.Warnf("Token revocation failed: %v", err)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not delete token file '%s': %w", path, err)
	}
	return nil
}

func revoke(ctx context.Context, client *http.Client, tok *oauth2.Token) error {
	value := tok.RefreshToken
	if value == "" {
		value = tok.AccessToken
	}
	if value == "" {
		return nil
	}
	if client == nil {
		client = http.DefaultClient
	}

	form := url.Values{"token": {value}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke returned %s", resp.Status)
	}
	return nil
}
