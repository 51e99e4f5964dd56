package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedAdapter struct {
	Adapter
	name string
}

func (a namedAdapter) Name() string { return a.name }

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry(namedAdapter{name: "instagram"}, namedAdapter{name: "x"})

	tests := []struct {
		input string
		want  string
	}{
		{"instagram", "instagram"},
		{"Instagram", "instagram"},
		{"  X ", "x"},
		{"twitter", "x"},
		{"TWITTER", "x"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			a, err := r.Resolve(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.Name())
		})
	}
}

func TestRegistryResolveUnknown(t *testing.T) {
	r := NewRegistry(namedAdapter{name: "instagram"})

	_, err := r.Resolve("myspace")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "unsupported platform")
	assert.False(t, Retryable(err))
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewRegistry(namedAdapter{name: "youtube"}, namedAdapter{name: "instagram"}, namedAdapter{name: "tiktok"})
	assert.Equal(t, []string{"instagram", "tiktok", "youtube"}, r.Names())
}

func TestErrorKinds(t *testing.T) {
	v := Validation("x", "post exceeds %d character limit", 280)
	wrapped := fmt.Errorf("publish: %w", v)

	assert.ErrorIs(t, wrapped, ErrValidation)
	assert.NotErrorIs(t, wrapped, ErrExternalAPI)
	assert.Equal(t, KindValidation, KindOf(wrapped))
	assert.Equal(t, "post exceeds 280 character limit", v.Error())

	ext := ExternalAPI("x", 503, "service unavailable", nil)
	assert.True(t, Retryable(ext))
	assert.False(t, Retryable(Authentication("x", "token expired", nil)))
	assert.False(t, Retryable(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
}

func TestContentCaption(t *testing.T) {
	c := Content{Text: "Hello", Hashtags: []string{"go", "#golang", " "}}
	assert.Equal(t, "Hello #go #golang", c.Caption())

	assert.Equal(t, "plain", Content{Text: "plain"}.Caption())
	assert.Equal(t, "#only", Content{Hashtags: []string{"only"}}.Caption())
}

func TestClientMapsStatusCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/unauthorized":
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"Invalid OAuth access token"}}`))
		case "/down":
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"detail":"Service Unavailable"}`))
		case "/ok":
			_, _ = w.Write([]byte(`{"id":"123"}`))
		}
	}))
	defer srv.Close()

	c := NewClient("test", srv.Client(), nil)
	ctx := context.Background()

	err := c.JSON(ctx, http.MethodGet, srv.URL+"/unauthorized", "tok", nil, nil)
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, "Invalid OAuth access token", err.Error())

	err = c.JSON(ctx, http.MethodGet, srv.URL+"/down", "", nil, nil)
	assert.ErrorIs(t, err, ErrExternalAPI)
	assert.Equal(t, "Service Unavailable", err.Error())

	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, c.JSON(ctx, http.MethodPost, srv.URL+"/ok", "", map[string]string{"a": "b"}, &out))
	assert.Equal(t, "123", out.ID)
}

func TestClientTimeoutIsExternalAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient("test", srv.Client(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.JSON(ctx, http.MethodGet, srv.URL, "", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExternalAPI)
	assert.True(t, Retryable(err))
}

func TestResponseMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"nested error", `{"error":{"message":"bad media"}}`, "bad media"},
		{"string error", `{"error":"invalid_grant","error_description":"code expired"}`, "code expired"},
		{"errors list", `{"errors":[{"message":"duplicate content"}]}`, "duplicate content"},
		{"plain text", `upstream exploded`, "upstream exploded"},
		{"empty", ``, "502 Bad Gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResponseMessage([]byte(tt.body), "502 Bad Gateway"))
		})
	}
}

func TestResponseMessageTruncatesOnRuneBoundary(t *testing.T) {
	// 299 ASCII bytes put the 300th byte inside a two-byte rune
	body := strings.Repeat("a", 299) + strings.Repeat("é", 10)

	msg := ResponseMessage([]byte(body), "fallback")

	assert.True(t, utf8.ValidString(msg))
	assert.Equal(t, strings.Repeat("a", 299), msg)

	long := strings.Repeat("日本", 200)
	msg = ResponseMessage([]byte(long), "fallback")
	assert.True(t, utf8.ValidString(msg))
	assert.LessOrEqual(t, len(msg), 300)
	assert.True(t, strings.HasPrefix(long, msg))
}

func TestResponseMessageRepairsInvalidUTF8(t *testing.T) {
	msg := ResponseMessage([]byte("bad \xff gateway"), "fallback")
	assert.True(t, utf8.ValidString(msg))
	assert.Equal(t, "bad \uFFFD gateway", msg)
}
