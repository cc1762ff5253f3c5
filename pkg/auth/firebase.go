package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cbodonnell/harbor/pkg/log"
)

const (
	DefaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com/v1"
	DefaultSecureTokenURL     = "https://securetoken.googleapis.com/v1"

	// refreshLeeway is how long before expiry a cached token is refreshed
	refreshLeeway = time.Minute
)

// ErrorResponseBody is the response body for an error
// https://firebase.google.com/docs/reference/rest/auth#section-error-format
type ErrorResponseBody struct {
	Error struct {
		Code    int                  `json:"code"`
		Message ErrorResponseMessage `json:"message"`
	} `json:"error"`
}

type ErrorResponseMessage string

const (
	ErrorInvalidEmail            ErrorResponseMessage = "INVALID_EMAIL"
	ErrorInvalidLoginCredentials ErrorResponseMessage = "INVALID_LOGIN_CREDENTIALS"
	ErrorTokenExpired            ErrorResponseMessage = "TOKEN_EXPIRED"
	ErrorUserNotFound            ErrorResponseMessage = "USER_NOT_FOUND"
	ErrorInvalidRefreshToken     ErrorResponseMessage = "INVALID_REFRESH_TOKEN"
)

// FirebaseError is returned when the Firebase REST API rejects a request.
type FirebaseError struct {
	Status  int
	Message ErrorResponseMessage
}

func (e *FirebaseError) Error() string {
	return fmt.Sprintf("firebase auth error (%d): %s", e.Status, e.Message)
}

// LoginRequestBody is the request body for the password sign-in endpoint
type LoginRequestBody struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

// LoginResponseBody is the response body for the password sign-in endpoint
type LoginResponseBody struct {
	IDToken      string `json:"idToken"`
	Email        string `json:"email"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
	LocalID      string `json:"localId"`
}

// RefreshRequestBody is the request body for the refresh endpoint
type RefreshRequestBody struct {
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshResponseBody is the response body for the refresh endpoint
type RefreshResponseBody struct {
	ExpiresIn    string `json:"expires_in"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	UserID       string `json:"user_id"`
	ProjectID    string `json:"project_id"`
}

type FirebaseOptions struct {
	APIKey string
	// RefreshToken is used when set; otherwise Email and Password sign in first
	RefreshToken string
	Email        string
	Password     string

	HTTPClient         *http.Client
	IdentityToolkitURL string
	SecureTokenURL     string
	Clock              func() time.Time
}

// FirebaseProvider acquires id tokens from the Firebase Auth REST API and
// caches them until shortly before they expire.
type FirebaseProvider struct {
	opts FirebaseOptions

	lock         sync.Mutex
	refreshToken string
	cached       *Credential
}

var _ CredentialProvider = &FirebaseProvider{}

func NewFirebaseProvider(opts FirebaseOptions) *FirebaseProvider {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.IdentityToolkitURL == "" {
		opts.IdentityToolkitURL = DefaultIdentityToolkitURL
	}
	if opts.SecureTokenURL == "" {
		opts.SecureTokenURL = DefaultSecureTokenURL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &FirebaseProvider{
		opts:         opts,
		refreshToken: opts.RefreshToken,
	}
}

// Credential returns a cached id token or acquires a new one.
func (p *FirebaseProvider) Credential(ctx context.Context) (*Credential, error) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.cached != nil && !p.cached.Expired(p.opts.Clock(), refreshLeeway) {
		return p.cached, nil
	}

	var idToken string
	if p.refreshToken == "" {
		if p.opts.Email == "" || p.opts.Password == "" {
			return nil, fmt.Errorf("no refresh token or email and password configured")
		}
		resp := &LoginResponseBody{}
		req := &LoginRequestBody{
			Email:             p.opts.Email,
			Password:          p.opts.Password,
			ReturnSecureToken: true,
		}
		if err := p.post(ctx, p.opts.IdentityToolkitURL+"/accounts:signInWithPassword", req, resp); err != nil {
			return nil, fmt.Errorf("failed to sign in: %w", err)
		}
		log.Debug("Signed in to Firebase as %s", resp.LocalID)
		p.refreshToken = resp.RefreshToken
		idToken = resp.IDToken
	} else {
		resp := &RefreshResponseBody{}
		req := &RefreshRequestBody{
			GrantType:    "refresh_token",
			RefreshToken: p.refreshToken,
		}
		if err := p.post(ctx, p.opts.SecureTokenURL+"/token", req, resp); err != nil {
			return nil, fmt.Errorf("failed to refresh id token: %w", err)
		}
		if resp.RefreshToken != "" {
			p.refreshToken = resp.RefreshToken
		}
		idToken = resp.IDToken
	}

	cred, err := NewCredential(idToken)
	if err != nil {
		return nil, err
	}
	p.cached = cred
	return cred, nil
}

func (p *FirebaseProvider) post(ctx context.Context, url string, requestPayload, responsePayload interface{}) error {
	body := bytes.NewBuffer(nil)
	if err := json.NewEncoder(body).Encode(requestPayload); err != nil {
		return fmt.Errorf("error encoding request body: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"?key="+p.opts.APIKey, body)
	if err != nil {
		return fmt.Errorf("error creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errorResponse := &ErrorResponseBody{}
		if err := json.NewDecoder(resp.Body).Decode(errorResponse); err != nil {
			return fmt.Errorf("failed to decode error response (%s): %v", resp.Status, err)
		}
		return &FirebaseError{Status: resp.StatusCode, Message: errorResponse.Error.Message}
	}

	if err := json.NewDecoder(resp.Body).Decode(responsePayload); err != nil {
		return fmt.Errorf("error decoding response: %v", err)
	}
	return nil
}
