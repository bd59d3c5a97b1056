// Command gdrive-auth runs the OAuth consent flow once and prints the refresh
// token to put in GDRIVE_REFRESH_TOKEN.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"

	"scenerender/internal/config"
	"scenerender/internal/pkg/logger"
)

const authTimeout = 3 * time.Minute

func main() {
	log := logger.New(logger.Config{Level: "info", Format: "text", ServiceName: "gdrive-auth"})

	cfg, err := config.Load()
	if err != nil {
		log.LogFatal("failed to load configuration", err)
	}
	if cfg.GDriveClientID == "" || cfg.GDriveClientSecret == "" {
		log.LogFatal("GDRIVE_CLIENT_ID and GDRIVE_CLIENT_SECRET are required", nil)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.LogFatal("failed to open callback listener", err)
	}
	defer ln.Close()

	redirectURL := fmt.Sprintf("http://127.0.0.1:%d/callback", ln.Addr().(*net.TCPAddr).Port)
	conf := &oauth2.Config{
		ClientID:     cfg.GDriveClientID,
		ClientSecret: cfg.GDriveClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
		RedirectURL:  redirectURL,
	}

	state, err := randomState()
	if err != nil {
		log.LogFatal("failed to generate state", err)
	}

	code, err := awaitCode(ln, state, func(authURL string) {
		fmt.Printf("\nOpen this URL in your browser:\n\n%s\n\nWaiting for authorization on %s\n", authURL, redirectURL)
	}, conf)
	if err != nil {
		log.LogFatal("authorization failed", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		log.LogFatal("token exchange failed", err)
	}

	// Google only returns a refresh token on the first consent for a client.
	if strings.TrimSpace(tok.RefreshToken) == "" {
		log.Warn("no refresh token returned; revoke the app at https://myaccount.google.com/permissions and retry")
		return
	}
	fmt.Printf("\nGDRIVE_REFRESH_TOKEN=%s\n", tok.RefreshToken)
}

// awaitCode serves the OAuth callback on ln until it receives a code, an
// error or the timeout.
func awaitCode(ln net.Listener, state string, show func(string), conf *oauth2.Config) (string, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("state") != state:
			http.Error(w, "invalid state", http.StatusBadRequest)
			errCh <- fmt.Errorf("invalid state")
		case q.Get("error") != "":
			http.Error(w, "auth error: "+q.Get("error"), http.StatusBadRequest)
			errCh <- fmt.Errorf("auth error: %s", q.Get("error"))
		case q.Get("code") == "":
			http.Error(w, "missing code", http.StatusBadRequest)
			errCh <- fmt.Errorf("missing code")
		default:
			fmt.Fprintln(w, "Authorized. You can close this window and return to the terminal.")
			codeCh <- q.Get("code")
		}
	})

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	show(conf.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent")))

	select {
	case code := <-codeCh:
		return code, nil
	case err := <-errCh:
		return "", err
	case <-time.After(authTimeout):
		return "", fmt.Errorf("timed out waiting for authorization")
	}
}

func randomState() (string, error) {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
