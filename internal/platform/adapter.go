// Package platform defines the contract every publishing destination
// implements, the error taxonomy adapters report with, and the registry the
// publish and metrics paths resolve destinations through.
package platform

import (
	"context"
	"strings"
	"time"
)

type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	// AccountID is the destination's own identifier for the account.
	AccountID string
	Profile   Profile
}

type Profile struct {
	Name       string
	Username   string
	PictureURL string
}

type Media struct {
	URL      string
	MIMEType string
}

func (m Media) IsVideo() bool {
	return strings.HasPrefix(m.MIMEType, "video/")
}

func (m Media) IsImage() bool {
	return strings.HasPrefix(m.MIMEType, "image/")
}

type Content struct {
	Text     string
	Title    string
	Hashtags []string
	Media    []Media
}

// Caption is the text followed by the hashtags, each prefixed with '#'.
func (c Content) Caption() string {
	if len(c.Hashtags) == 0 {
		return c.Text
	}

	var b strings.Builder
	b.WriteString(c.Text)
	for _, tag := range c.Hashtags {
		tag = strings.TrimPrefix(strings.TrimSpace(tag), "#")
		if tag == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte('#')
		b.WriteString(tag)
	}
	return b.String()
}

func (c Content) Videos() int {
	n := 0
	for _, m := range c.Media {
		if m.IsVideo() {
			n++
		}
	}
	return n
}

type PublishResult struct {
	RemoteID  string
	Permalink string
}

type AccountMetrics struct {
	Followers      int64
	Following      int64
	Posts          int64
	EngagementRate float64
	Reach          int64
	Impressions    int64
	ProfileViews   int64
	WebsiteClicks  int64
}

type PostMetrics struct {
	Likes          int64   `json:"likes"`
	Comments       int64   `json:"comments"`
	Shares         int64   `json:"shares"`
	Saves          int64   `json:"saves"`
	Reach          int64   `json:"reach"`
	Impressions    int64   `json:"impressions"`
	EngagementRate float64 `json:"engagement_rate"`
}

// Adapter is implemented once per destination. Adapters never touch
// persistence; callers own every write.
type Adapter interface {
	Name() string
	// Connect exchanges an authorization code for credentials.
	Connect(ctx context.Context, code string) (*Credentials, error)
	// Publish validates content against the destination's rules before any
	// network call, then delivers it.
	Publish(ctx context.Context, creds Credentials, content Content) (*PublishResult, error)
	// Remove reports false when the destination does not support deletion.
	Remove(ctx context.Context, creds Credentials, remoteID string) (bool, error)
	RefreshCredentials(ctx context.Context, refreshToken string) (*Credentials, error)
	AccountMetrics(ctx context.Context, creds Credentials) (*AccountMetrics, error)
	PostMetrics(ctx context.Context, creds Credentials, remoteID string) (*PostMetrics, error)
}

// Authorizer is implemented by adapters that drive a browser consent flow.
type Authorizer interface {
	AuthURL(state string) string
}

// PKCEAuthorizer is implemented by adapters whose consent flow binds the
// authorization code to a verifier generated for that flow alone.
type PKCEAuthorizer interface {
	AuthURLWithVerifier(state, verifier string) string
	ConnectWithVerifier(ctx context.Context, code, verifier string) (*Credentials, error)
}

// Revoker is implemented by adapters whose destination can invalidate a token.
type Revoker interface {
	Revoke(ctx context.Context, creds Credentials) error
}

// EngagementRate is interactions per follower, as a percentage.
func EngagementRate(likes, comments, shares, followers int64) float64 {
	if followers <= 0 {
		return 0
	}
	return float64(likes+comments+shares) / float64(followers) * 100
}
