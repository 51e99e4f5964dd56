package youtube

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/maheshrc27/postcraft/internal/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) (*Adapter, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	a := New(Config{
		ClientID:     "cid",
		ClientSecret: "secret",
		RedirectURI:  "http://localhost/callback",
		Endpoint:     oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"},
		APIURL:       srv.URL + "/",
		UserInfoURL:  srv.URL + "/userinfo",
		RevokeURL:    srv.URL + "/revoke",
	}, platform.NewClient(Name, srv.Client(), nil))
	return a, &hits
}

func TestPublishValidation(t *testing.T) {
	a, hits := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})

	video := platform.Media{URL: "https://cdn/v.mp4", MIMEType: "video/mp4"}
	image := platform.Media{URL: "https://cdn/p.jpg", MIMEType: "image/jpeg"}

	tests := []struct {
		name    string
		content platform.Content
	}{
		{"no media", platform.Content{Title: "t"}},
		{"image only", platform.Content{Title: "t", Media: []platform.Media{image}}},
		{"two videos", platform.Content{Title: "t", Media: []platform.Media{video, video}}},
		{"missing title", platform.Content{Title: "  ", Media: []platform.Media{video}}},
		{"long title", platform.Content{Title: strings.Repeat("t", MaxTitleLength+1), Media: []platform.Media{video}}},
		{"long description", platform.Content{Title: "t", Text: strings.Repeat("d", MaxDescriptionLength+1), Media: []platform.Media{video}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Publish(context.Background(), platform.Credentials{AccessToken: "tok"}, tt.content)
			assert.ErrorIs(t, err, platform.ErrValidation)
		})
	}
	assert.Zero(t, hits.Load())
}

func TestAuthURLRequestsOfflineAccess(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})

	u := a.AuthURL("state-1")
	assert.Contains(t, u, "access_type=offline")
	assert.Contains(t, u, "state=state-1")
	assert.Contains(t, u, "client_id=cid")
}

func TestRefreshCredentials(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		if r.PostForm.Get("refresh_token") == "revoked" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"fresh","token_type":"Bearer","expires_in":3599}`))
	})

	c, err := a.RefreshCredentials(context.Background(), "rt")
	require.NoError(t, err)
	assert.Equal(t, "fresh", c.AccessToken)
	assert.Equal(t, "rt", c.RefreshToken)

	_, err = a.RefreshCredentials(context.Background(), "revoked")
	assert.ErrorIs(t, err, platform.ErrAuthentication)
}

func TestConnectRequiresRefreshToken(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/token":
			_, _ = w.Write([]byte(`{"access_token":"at","token_type":"Bearer","expires_in":3599}`))
		case "/userinfo":
			_, _ = w.Write([]byte(`{"id":"g-1","email":"me@example.com","name":"Me"}`))
		}
	})

	_, err := a.Connect(context.Background(), "code")
	assert.ErrorIs(t, err, platform.ErrAuthentication)

	_, err = a.Connect(context.Background(), "")
	assert.ErrorIs(t, err, platform.ErrAuthentication)
}

func TestAccountMetrics(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/youtube/v3/channels", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"statistics":{"subscriberCount":"120","videoCount":"7","viewCount":"900"}}]}`))
	})

	m, err := a.AccountMetrics(context.Background(), platform.Credentials{AccessToken: "tok"})
	require.NoError(t, err)
	assert.Equal(t, int64(120), m.Followers)
	assert.Equal(t, int64(7), m.Posts)
	assert.Equal(t, int64(900), m.Impressions)
}

func TestRemoveMapsUnauthorized(t *testing.T) {
	a, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":401,"message":"Invalid Credentials"}}`))
	})

	ok, err := a.Remove(context.Background(), platform.Credentials{AccessToken: "tok"}, "vid")
	assert.False(t, ok)
	assert.ErrorIs(t, err, platform.ErrAuthentication)
}
