package instagram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/maheshrc27/postcraft/internal/platform"
)

const (
	Name = "instagram"

	MaxCaptionLength = 2200
	MaxHashtags      = 30
	MaxCarouselItems = 10

	defaultAuthURL  = "https://www.instagram.com/oauth/authorize"
	defaultAPIURL   = "https://api.instagram.com"
	defaultGraphURL = "https://graph.instagram.com"
	graphVersion    = "v21.0"
)

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	AuthURL  string
	APIURL   string
	GraphURL string

	// PollInterval and MaxPolls bound the wait for video containers.
	PollInterval time.Duration
	MaxPolls     int
}

type Adapter struct {
	cfg    Config
	client *platform.Client
}

func New(cfg Config, client *platform.Client) *Adapter {
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.GraphURL == "" {
		cfg.GraphURL = defaultGraphURL
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.MaxPolls == 0 {
		cfg.MaxPolls = 20
	}
	return &Adapter{cfg: cfg, client: client}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) AuthURL(state string) string {
	params := url.Values{}
	params.Add("client_id", a.cfg.ClientID)
	params.Add("scope", "instagram_business_basic,instagram_business_content_publish,instagram_business_manage_insights")
	params.Add("response_type", "code")
	params.Add("redirect_uri", a.cfg.RedirectURI)
	params.Add("state", state)

	return fmt.Sprintf("%s?%s", a.cfg.AuthURL, params.Encode())
}

func (a *Adapter) Connect(ctx context.Context, code string) (*platform.Credentials, error) {
	if code == "" {
		return nil, platform.Authentication(Name, "authorization code is empty", nil)
	}

	form := url.Values{}
	form.Set("client_id", a.cfg.ClientID)
	form.Set("client_secret", a.cfg.ClientSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", a.cfg.RedirectURI)
	form.Set("code", code)

	var short shortLivedToken
	if err := a.client.Form(ctx, a.cfg.APIURL+"/oauth/access_token", form, &short); err != nil {
		return nil, platform.RejectedCode(Name, err)
	}

	params := url.Values{}
	params.Set("grant_type", "ig_exchange_token")
	params.Set("client_secret", a.cfg.ClientSecret)
	params.Set("access_token", short.AccessToken)

	var long longLivedToken
	if err := a.get(ctx, "/access_token", params, &long); err != nil {
		return nil, platform.RejectedCode(Name, err)
	}

	info, err := a.me(ctx, long.AccessToken, "id,username,name,profile_picture_url")
	if err != nil {
		return nil, err
	}

	// Instagram refreshes the long-lived token itself, so it doubles as the
	// refresh credential.
	return &platform.Credentials{
		AccessToken:  long.AccessToken,
		RefreshToken: long.AccessToken,
		ExpiresAt:    time.Now().Add(time.Duration(long.ExpiresIn) * time.Second),
		AccountID:    info.UserID,
		Profile: platform.Profile{
			Name:       info.Name,
			Username:   info.Username,
			PictureURL: info.ProfilePicture,
		},
	}, nil
}

func validate(content platform.Content) error {
	if len(content.Media) == 0 {
		return platform.Validation(Name, "instagram requires at least one image or video")
	}
	if len(content.Media) > MaxCarouselItems {
		return platform.Validation(Name, "instagram allows at most %d media items per post", MaxCarouselItems)
	}
	if len(content.Hashtags) > MaxHashtags {
		return platform.Validation(Name, "instagram allows at most %d hashtags", MaxHashtags)
	}
	if n := utf8.RuneCountInString(content.Caption()); n > MaxCaptionLength {
		return platform.Validation(Name, "caption exceeds %d character limit (%d)", MaxCaptionLength, n)
	}
	for _, m := range content.Media {
		if !m.IsImage() && !m.IsVideo() {
			return platform.Validation(Name, "unsupported media type %q", m.MIMEType)
		}
	}
	return nil
}

func (a *Adapter) Publish(ctx context.Context, creds platform.Credentials, content platform.Content) (*platform.PublishResult, error) {
	if err := validate(content); err != nil {
		return nil, err
	}

	caption := content.Caption()

	var containerID string
	var err error
	if len(content.Media) == 1 {
		containerID, err = a.createContainer(ctx, creds, content.Media[0], caption, false)
	} else {
		containerID, err = a.createCarousel(ctx, creds, content.Media, caption)
	}
	if err != nil {
		return nil, err
	}

	var published idResponse
	err = a.client.JSON(ctx, http.MethodPost, a.graphURL(creds.AccountID+"/media_publish"), "",
		publishRequest{CreationID: containerID, AccessToken: creds.AccessToken}, &published)
	if err != nil {
		return nil, err
	}
	if published.ID == "" {
		return nil, platform.ExternalAPI(Name, 0, "no media id returned from instagram", nil)
	}

	result := &platform.PublishResult{RemoteID: published.ID}

	params := url.Values{}
	params.Set("fields", "permalink")
	params.Set("access_token", creds.AccessToken)
	var info mediaInfo
	if err := a.get(ctx, "/"+graphVersion+"/"+published.ID, params, &info); err == nil {
		result.Permalink = info.Permalink
	}
	return result, nil
}

func (a *Adapter) createContainer(ctx context.Context, creds platform.Credentials, media platform.Media, caption string, carouselItem bool) (string, error) {
	req := containerRequest{
		Caption:        caption,
		IsCarouselItem: carouselItem,
		AccessToken:    creds.AccessToken,
	}
	if carouselItem {
		req.Caption = ""
	}
	if media.IsVideo() {
		req.VideoURL = media.URL
		req.MediaType = "REELS"
		if carouselItem {
			req.MediaType = "VIDEO"
		}
	} else {
		req.ImageURL = media.URL
	}

	var container idResponse
	if err := a.client.JSON(ctx, http.MethodPost, a.graphURL(creds.AccountID+"/media"), "", req, &container); err != nil {
		return "", err
	}
	if container.ID == "" {
		return "", platform.ExternalAPI(Name, 0, "no container id returned from instagram", nil)
	}

	if media.IsVideo() {
		if err := a.waitForContainer(ctx, creds, container.ID); err != nil {
			return "", err
		}
	}
	return container.ID, nil
}

func (a *Adapter) createCarousel(ctx context.Context, creds platform.Credentials, media []platform.Media, caption string) (string, error) {
	children := make([]string, 0, len(media))
	for _, m := range media {
		id, err := a.createContainer(ctx, creds, m, "", true)
		if err != nil {
			return "", err
		}
		children = append(children, id)
	}

	var carousel idResponse
	err := a.client.JSON(ctx, http.MethodPost, a.graphURL(creds.AccountID+"/media"), "", containerRequest{
		MediaType:   "CAROUSEL",
		Caption:     caption,
		Children:    strings.Join(children, ","),
		AccessToken: creds.AccessToken,
	}, &carousel)
	if err != nil {
		return "", err
	}
	if carousel.ID == "" {
		return "", platform.ExternalAPI(Name, 0, "no carousel id returned from instagram", nil)
	}
	return carousel.ID, nil
}

func (a *Adapter) waitForContainer(ctx context.Context, creds platform.Credentials, containerID string) error {
	params := url.Values{}
	params.Set("fields", "status_code")
	params.Set("access_token", creds.AccessToken)

	for i := 0; i < a.cfg.MaxPolls; i++ {
		var status containerStatus
		if err := a.get(ctx, "/"+graphVersion+"/"+containerID, params, &status); err != nil {
			return err
		}
		switch status.StatusCode {
		case "FINISHED", "PUBLISHED":
			return nil
		case "ERROR", "EXPIRED":
			return platform.ExternalAPI(Name, 0, "media container "+strings.ToLower(status.StatusCode), nil)
		}

		select {
		case <-ctx.Done():
			return platform.ExternalAPI(Name, 0, "media container not ready", ctx.Err())
		case <-time.After(a.cfg.PollInterval):
		}
	}
	return platform.ExternalAPI(Name, 0, "media container not ready", nil)
}

// Remove is not offered by the Instagram publishing API.
func (a *Adapter) Remove(ctx context.Context, creds platform.Credentials, remoteID string) (bool, error) {
	return false, nil
}

func (a *Adapter) RefreshCredentials(ctx context.Context, refreshToken string) (*platform.Credentials, error) {
	params := url.Values{}
	params.Set("grant_type", "ig_refresh_token")
	params.Set("access_token", refreshToken)

	var token longLivedToken
	if err := a.get(ctx, "/refresh_access_token", params, &token); err != nil {
		return nil, platform.RejectedCode(Name, err)
	}

	return &platform.Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.AccessToken,
		ExpiresAt:    time.Now().Add(time.Duration(token.ExpiresIn) * time.Second),
	}, nil
}

func (a *Adapter) AccountMetrics(ctx context.Context, creds platform.Credentials) (*platform.AccountMetrics, error) {
	info, err := a.me(ctx, creds.AccessToken, "id,followers_count,follows_count,media_count")
	if err != nil {
		return nil, err
	}
	return &platform.AccountMetrics{
		Followers: info.FollowersCount,
		Following: info.FollowsCount,
		Posts:     info.MediaCount,
	}, nil
}

func (a *Adapter) PostMetrics(ctx context.Context, creds platform.Credentials, remoteID string) (*platform.PostMetrics, error) {
	params := url.Values{}
	params.Set("fields", "id,like_count,comments_count")
	params.Set("access_token", creds.AccessToken)

	var info mediaInfo
	if err := a.get(ctx, "/"+graphVersion+"/"+remoteID, params, &info); err != nil {
		return nil, err
	}
	return &platform.PostMetrics{
		Likes:    info.LikeCount,
		Comments: info.CommentsCount,
	}, nil
}

func (a *Adapter) me(ctx context.Context, accessToken, fields string) (*userInfo, error) {
	params := url.Values{}
	params.Set("fields", fields)
	params.Set("access_token", accessToken)

	var info userInfo
	if err := a.get(ctx, "/me", params, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (a *Adapter) get(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.GraphURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return a.client.Do(req, out)
}

func (a *Adapter) graphURL(path string) string {
	return fmt.Sprintf("%s/%s/%s", a.cfg.GraphURL, graphVersion, path)
}
