package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedToken(t *testing.T, uid string, expiresAt time.Time) string {
	claims := TokenClaims{
		UserID: uid,
		Email:  uid + "@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uid,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestParseIDToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	claims, err := ParseIDToken(signedToken(t, "abc", exp))
	require.NoError(t, err)
	assert.Equal(t, "abc", claims.UID())
	assert.Equal(t, "abc@example.com", claims.Email)
	assert.True(t, claims.ExpiresAt.Time.Equal(exp))

	_, err = ParseIDToken("not-a-token")
	assert.Error(t, err)
}

func TestCredentialAccountID(t *testing.T) {
	var nilCred *Credential
	assert.Equal(t, "", nilCred.AccountID())
	assert.Equal(t, "", (&Credential{}).AccountID())
	assert.Equal(t, "firebase_abc", (&Credential{UID: "abc"}).AccountID())
}

func TestCredentialExpired(t *testing.T) {
	now := time.Now()
	assert.False(t, (&Credential{}).Expired(now, time.Minute))
	assert.False(t, (&Credential{ExpiresAt: now.Add(time.Hour)}).Expired(now, time.Minute))
	assert.True(t, (&Credential{ExpiresAt: now.Add(30 * time.Second)}).Expired(now, time.Minute))
}

func TestStaticProvider(t *testing.T) {
	p := &StaticProvider{IDToken: signedToken(t, "abc", time.Now().Add(time.Hour))}
	cred, err := p.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "firebase_abc", cred.AccountID())

	_, err = (&StaticProvider{}).Credential(context.Background())
	assert.Error(t, err)
}

func TestFirebaseProvider(t *testing.T) {
	var logins, refreshes atomic.Int32
	expiresAt := time.Now().Add(time.Hour)

	mux := http.NewServeMux()
	mux.HandleFunc("/accounts:signInWithPassword", func(w http.ResponseWriter, r *http.Request) {
		logins.Add(1)
		assert.Equal(t, "key", r.URL.Query().Get("key"))
		req := &LoginRequestBody{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(req))
		if req.Password != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{"code": 400, "message": ErrorInvalidLoginCredentials},
			})
			return
		}
		json.NewEncoder(w).Encode(&LoginResponseBody{
			IDToken:      signedToken(t, "abc", expiresAt),
			RefreshToken: "refresh-1",
			LocalID:      "abc",
		})
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		req := &RefreshRequestBody{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(req))
		assert.Equal(t, "refresh_token", req.GrantType)
		assert.Equal(t, "refresh-1", req.RefreshToken)
		json.NewEncoder(w).Encode(&RefreshResponseBody{
			IDToken:      signedToken(t, "abc", expiresAt),
			RefreshToken: "refresh-1",
			UserID:       "abc",
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	now := time.Now()
	p := NewFirebaseProvider(FirebaseOptions{
		APIKey:             "key",
		Email:              "abc@example.com",
		Password:           "secret",
		IdentityToolkitURL: server.URL,
		SecureTokenURL:     server.URL,
		Clock:              func() time.Time { return now },
	})

	cred, err := p.Credential(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "firebase_abc", cred.AccountID())

	// cached until close to expiry
	_, err = p.Credential(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, logins.Load())
	assert.EqualValues(t, 0, refreshes.Load())

	now = expiresAt
	_, err = p.Credential(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, logins.Load())
	assert.EqualValues(t, 1, refreshes.Load())

	bad := NewFirebaseProvider(FirebaseOptions{
		APIKey:             "key",
		Email:              "abc@example.com",
		Password:           "wrong",
		IdentityToolkitURL: server.URL,
	})
	_, err = bad.Credential(context.Background())
	var firebaseErr *FirebaseError
	require.ErrorAs(t, err, &firebaseErr)
	assert.Equal(t, ErrorInvalidLoginCredentials, firebaseErr.Message)
}
