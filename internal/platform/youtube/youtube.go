package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/maheshrc27/postcraft/internal/platform"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const (
	Name = "youtube"

	MaxTitleLength       = 100
	MaxDescriptionLength = 5000

	defaultUserInfoURL = "https://www.googleapis.com/oauth2/v1/userinfo"
	defaultRevokeURL   = "https://oauth2.googleapis.com/revoke"

	categoryPeopleBlogs = "22"
)

var scopes = []string{
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
	"https://www.googleapis.com/auth/youtube.upload",
	"https://www.googleapis.com/auth/youtube.readonly",
	"https://www.googleapis.com/auth/youtube.force-ssl",
}

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	// Endpoint overrides google.Endpoint.
	Endpoint    oauth2.Endpoint
	APIURL      string
	UserInfoURL string
	RevokeURL   string
}

type Adapter struct {
	cfg    Config
	oauth  *oauth2.Config
	client *platform.Client
}

type userInfo struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func New(cfg Config, client *platform.Client) *Adapter {
	if cfg.Endpoint.TokenURL == "" {
		cfg.Endpoint = google.Endpoint
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = defaultUserInfoURL
	}
	if cfg.RevokeURL == "" {
		cfg.RevokeURL = defaultRevokeURL
	}

	return &Adapter{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint:     cfg.Endpoint,
		},
		client: client,
	}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) AuthURL(state string) string {
	return a.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// httpContext makes oauth2 use the adapter's rate limited transport.
func (a *Adapter) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.client.HTTP())
}

func (a *Adapter) Connect(ctx context.Context, code string) (*platform.Credentials, error) {
	if code == "" {
		return nil, platform.Authentication(Name, "authorization code is empty", nil)
	}
	if a.oauth.ClientID == "" || a.oauth.ClientSecret == "" || a.oauth.RedirectURL == "" {
		return nil, platform.Authentication(Name, "oauth2 configuration is incomplete", nil)
	}

	token, err := a.oauth.Exchange(a.httpContext(ctx), code)
	if err != nil {
		return nil, tokenErr(err)
	}
	if token.RefreshToken == "" {
		return nil, platform.Authentication(Name, "refresh token is empty", nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.UserInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	var info userInfo
	if err := a.client.Do(req, &info); err != nil {
		return nil, err
	}

	return &platform.Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
		AccountID:    info.ID,
		Profile:      platform.Profile{Name: info.Name, Username: info.Email, PictureURL: info.Picture},
	}, nil
}

func validate(content platform.Content) error {
	if len(content.Media) != 1 || !content.Media[0].IsVideo() {
		return platform.Validation(Name, "youtube requires exactly one video")
	}
	title := strings.TrimSpace(content.Title)
	if title == "" {
		return platform.Validation(Name, "youtube requires a title")
	}
	if n := utf8.RuneCountInString(title); n > MaxTitleLength {
		return platform.Validation(Name, "title exceeds %d character limit (%d)", MaxTitleLength, n)
	}
	if n := utf8.RuneCountInString(content.Caption()); n > MaxDescriptionLength {
		return platform.Validation(Name, "description exceeds %d character limit (%d)", MaxDescriptionLength, n)
	}
	return nil
}

func (a *Adapter) service(ctx context.Context, accessToken string) (*youtube.Service, error) {
	httpClient := oauth2.NewClient(a.httpContext(ctx), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if a.cfg.APIURL != "" {
		opts = append(opts, option.WithEndpoint(a.cfg.APIURL))
	}
	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	return svc, nil
}

func (a *Adapter) Publish(ctx context.Context, creds platform.Credentials, content platform.Content) (*platform.PublishResult, error) {
	if err := validate(content); err != nil {
		return nil, err
	}

	svc, err := a.service(ctx, creds.AccessToken)
	if err != nil {
		return nil, err
	}

	// The upload streams straight from the media store.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, content.Media[0].URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := a.client.HTTP().Do(req)
	if err != nil {
		return nil, platform.ExternalAPI(Name, 0, "downloading video", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, platform.ExternalAPI(Name, resp.StatusCode, fmt.Sprintf("downloading video: unexpected status %d", resp.StatusCode), nil)
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       strings.TrimSpace(content.Title),
			Description: content.Caption(),
			Tags:        content.Hashtags,
			CategoryId:  categoryPeopleBlogs,
		},
		Status: &youtube.VideoStatus{PrivacyStatus: "public"},
	}

	uploaded, err := svc.Videos.Insert([]string{"snippet", "status"}, video).
		Media(resp.Body, googleapi.ContentType(content.Media[0].MIMEType)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, apiErr(err)
	}

	return &platform.PublishResult{
		RemoteID:  uploaded.Id,
		Permalink: "https://youtu.be/" + uploaded.Id,
	}, nil
}

func (a *Adapter) Remove(ctx context.Context, creds platform.Credentials, remoteID string) (bool, error) {
	svc, err := a.service(ctx, creds.AccessToken)
	if err != nil {
		return false, err
	}
	if err := svc.Videos.Delete(remoteID).Context(ctx).Do(); err != nil {
		return false, apiErr(err)
	}
	return true, nil
}

func (a *Adapter) RefreshCredentials(ctx context.Context, refreshToken string) (*platform.Credentials, error) {
	token, err := a.oauth.TokenSource(a.httpContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, tokenErr(err)
	}

	return &platform.Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}, nil
}

func (a *Adapter) Revoke(ctx context.Context, creds platform.Credentials) error {
	form := url.Values{}
	form.Set("token", creds.AccessToken)
	return a.client.Form(ctx, a.cfg.RevokeURL, form, nil)
}

func (a *Adapter) AccountMetrics(ctx context.Context, creds platform.Credentials) (*platform.AccountMetrics, error) {
	svc, err := a.service(ctx, creds.AccessToken)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Channels.List([]string{"statistics"}).Mine(true).Context(ctx).Do()
	if err != nil {
		return nil, apiErr(err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Statistics == nil {
		return nil, platform.NotFound(Name, "no channel for account %s", creds.AccountID)
	}

	stats := resp.Items[0].Statistics
	return &platform.AccountMetrics{
		Followers:   int64(stats.SubscriberCount),
		Posts:       int64(stats.VideoCount),
		Impressions: int64(stats.ViewCount),
	}, nil
}

func (a *Adapter) PostMetrics(ctx context.Context, creds platform.Credentials, remoteID string) (*platform.PostMetrics, error) {
	svc, err := a.service(ctx, creds.AccessToken)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Videos.List([]string{"statistics"}).Id(remoteID).Context(ctx).Do()
	if err != nil {
		return nil, apiErr(err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Statistics == nil {
		return nil, platform.NotFound(Name, "video %s not found", remoteID)
	}

	stats := resp.Items[0].Statistics
	return &platform.PostMetrics{
		Likes:       int64(stats.LikeCount),
		Comments:    int64(stats.CommentCount),
		Impressions: int64(stats.ViewCount),
	}, nil
}

func apiErr(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		msg := gerr.Message
		if msg == "" {
			msg = http.StatusText(gerr.Code)
		}
		switch gerr.Code {
		case http.StatusUnauthorized:
			return &platform.Error{Kind: platform.KindAuthentication, Platform: Name, Message: msg, StatusCode: gerr.Code}
		case http.StatusNotFound:
			return platform.NotFound(Name, "%s", msg)
		}
		return platform.ExternalAPI(Name, gerr.Code, msg, nil)
	}

	var pe *platform.Error
	if errors.As(err, &pe) {
		return pe
	}
	return platform.ExternalAPI(Name, 0, "youtube request failed", err)
}

func tokenErr(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		msg := rerr.ErrorDescription
		if msg == "" {
			msg = rerr.ErrorCode
		}
		if msg == "" {
			msg = platform.ResponseMessage(rerr.Body, "token exchange rejected")
		}
		if rerr.Response != nil && rerr.Response.StatusCode >= 500 {
			return platform.ExternalAPI(Name, rerr.Response.StatusCode, msg, nil)
		}
		return platform.Authentication(Name, msg, nil)
	}
	return platform.ExternalAPI(Name, 0, "token request failed", err)
}
