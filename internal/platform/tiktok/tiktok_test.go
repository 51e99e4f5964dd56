package tiktok

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/maheshrc27/postcraft/internal/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	video = platform.Media{URL: "https://cdn/v.mp4", MIMEType: "video/mp4"}
	photo = platform.Media{URL: "https://cdn/p.jpg", MIMEType: "image/jpeg"}
	creds = platform.Credentials{AccessToken: "act", AccountID: "open-1"}
)

func TestValidate(t *testing.T) {
	photos := make([]platform.Media, MaxPhotos+1)
	for i := range photos {
		photos[i] = photo
	}

	tests := []struct {
		name    string
		content platform.Content
		wantErr bool
	}{
		{"video", platform.Content{Text: "hi", Media: []platform.Media{video}}, false},
		{"photos", platform.Content{Text: "hi", Media: []platform.Media{photo, photo}}, false},
		{"text only", platform.Content{Text: "hi"}, true},
		{"two videos", platform.Content{Media: []platform.Media{video, video}}, true},
		{"mixed", platform.Content{Media: []platform.Media{video, photo}}, true},
		{"too many photos", platform.Content{Media: photos}, true},
		{"caption too long", platform.Content{Text: strings.Repeat("x", MaxCaptionLength+1), Media: []platform.Media{video}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate(tt.content)
			if tt.wantErr {
				assert.ErrorIs(t, err, platform.ErrValidation)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPublishVideo(t *testing.T) {
	var hits atomic.Int64
	var init videoInitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "Bearer act", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v2/post/publish/creator_info/query/":
			_, _ = w.Write([]byte(`{"data":{"creator_username":"me"},"error":{"code":"ok"}}`))
		case "/v2/post/publish/video/init/":
			_ = json.NewDecoder(r.Body).Decode(&init)
			_, _ = w.Write([]byte(`{"data":{"publish_id":"v_pub_1"},"error":{"code":"ok"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	a := New(Config{APIURL: srv.URL}, platform.NewClient(Name, srv.Client(), nil))
	res, err := a.Publish(context.Background(), creds, platform.Content{Text: "clip", Hashtags: []string{"fyp"}, Media: []platform.Media{video}})
	require.NoError(t, err)

	assert.Equal(t, "v_pub_1", res.RemoteID)
	assert.Equal(t, "PULL_FROM_URL", init.SourceInfo.Source)
	assert.Equal(t, video.URL, init.SourceInfo.VideoURL)
	assert.Equal(t, "clip #fyp", init.PostInfo.Title)
	assert.Equal(t, int64(2), hits.Load())
}

func TestPublishErrorCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"code":"access_token_invalid","message":"The access token is invalid or not found in the request."}}`))
	}))
	defer srv.Close()

	a := New(Config{APIURL: srv.URL}, platform.NewClient(Name, srv.Client(), nil))
	_, err := a.Publish(context.Background(), creds, platform.Content{Media: []platform.Media{video}})

	assert.ErrorIs(t, err, platform.ErrAuthentication)
	assert.Contains(t, err.Error(), "access token is invalid")
}

func TestRefreshGrantError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("refresh_token") == "good" {
			_, _ = w.Write([]byte(`{"access_token":"new","refresh_token":"good2","expires_in":86400,"open_id":"open-1"}`))
			return
		}
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Refresh token is invalid or expired."}`))
	}))
	defer srv.Close()

	a := New(Config{APIURL: srv.URL}, platform.NewClient(Name, srv.Client(), nil))

	c, err := a.RefreshCredentials(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "new", c.AccessToken)
	assert.Equal(t, "good2", c.RefreshToken)

	_, err = a.RefreshCredentials(context.Background(), "bad")
	assert.ErrorIs(t, err, platform.ErrAuthentication)
}

func TestPostMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"videos":[{"id":"v1","like_count":9,"comment_count":4,"share_count":2,"view_count":300}]},"error":{"code":"ok"}}`))
	}))
	defer srv.Close()

	a := New(Config{APIURL: srv.URL}, platform.NewClient(Name, srv.Client(), nil))
	m, err := a.PostMetrics(context.Background(), creds, "v1")
	require.NoError(t, err)

	assert.Equal(t, int64(9), m.Likes)
	assert.Equal(t, int64(300), m.Impressions)
}
