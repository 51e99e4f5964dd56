package tiktok

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
	Name = "tiktok"

	MaxCaptionLength = 2200
	MaxPhotos        = 35

	defaultAuthURL = "https://www.tiktok.com/v2/auth/authorize"
	defaultAPIURL  = "https://open.tiktokapis.com"

	scopes       = "user.info.basic,user.info.profile,user.info.stats,video.publish,video.upload,video.list"
	privacyLevel = "PUBLIC_TO_EVERYONE"
)

type Config struct {
	ClientKey    string
	ClientSecret string
	RedirectURI  string

	AuthURL string
	APIURL  string
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
	return &Adapter{cfg: cfg, client: client}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) AuthURL(state string) string {
	params := url.Values{}
	params.Add("client_key", a.cfg.ClientKey)
	params.Add("scope", scopes)
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
	form.Add("client_key", a.cfg.ClientKey)
	form.Add("client_secret", a.cfg.ClientSecret)
	form.Add("code", code)
	form.Add("grant_type", "authorization_code")
	form.Add("redirect_uri", a.cfg.RedirectURI)

	creds, err := a.token(ctx, form)
	if err != nil {
		return nil, err
	}

	u, err := a.userInfo(ctx, creds.AccessToken, "open_id,avatar_url,display_name,username")
	if err != nil {
		return nil, err
	}

	creds.AccountID = u.OpenID
	creds.Profile = platform.Profile{Name: u.DisplayName, Username: u.Username, PictureURL: u.AvatarURL}
	return creds, nil
}

func (a *Adapter) token(ctx context.Context, form url.Values) (*platform.Credentials, error) {
	var resp tokenResponse
	if err := a.client.Form(ctx, a.cfg.APIURL+"/v2/oauth/token/", form, &resp); err != nil {
		return nil, platform.RejectedCode(Name, err)
	}
	// TikTok reports grant failures with a 200 and an error field.
	if resp.Error != "" {
		msg := resp.ErrorDescription
		if msg == "" {
			msg = resp.Error
		}
		return nil, platform.Authentication(Name, msg, nil)
	}

	return &platform.Credentials{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		AccountID:    resp.OpenID,
	}, nil
}

func validate(content platform.Content) error {
	if len(content.Media) == 0 {
		return platform.Validation(Name, "tiktok requires a video or photos")
	}
	if n := utf8.RuneCountInString(content.Caption()); n > MaxCaptionLength {
		return platform.Validation(Name, "caption exceeds %d character limit (%d)", MaxCaptionLength, n)
	}

	videos := content.Videos()
	switch {
	case videos > 1:
		return platform.Validation(Name, "tiktok accepts a single video per post")
	case videos == 1 && len(content.Media) > 1:
		return platform.Validation(Name, "tiktok cannot mix a video with photos")
	case videos == 0 && len(content.Media) > MaxPhotos:
		return platform.Validation(Name, "tiktok allows at most %d photos", MaxPhotos)
	}
	for _, m := range content.Media {
		if !m.IsVideo() && !m.IsImage() {
			return platform.Validation(Name, "unsupported media type %q", m.MIMEType)
		}
	}
	return nil
}

func (a *Adapter) Publish(ctx context.Context, creds platform.Credentials, content platform.Content) (*platform.PublishResult, error) {
	if err := validate(content); err != nil {
		return nil, err
	}

	if err := a.queryCreatorInfo(ctx, creds.AccessToken); err != nil {
		return nil, err
	}

	var endpoint string
	var body any
	if content.Videos() == 1 {
		endpoint = "/v2/post/publish/video/init/"
		body = videoInitRequest{
			PostInfo: videoPostInfo{
				Title:                 content.Caption(),
				PrivacyLevel:          privacyLevel,
				VideoCoverTimestampMs: 1000,
			},
			SourceInfo: videoSourceInfo{Source: "PULL_FROM_URL", VideoURL: content.Media[0].URL},
		}
	} else {
		photos := make([]string, 0, len(content.Media))
		for _, m := range content.Media {
			photos = append(photos, m.URL)
		}
		endpoint = "/v2/post/publish/content/init/"
		body = photoInitRequest{
			PostInfo: photoPostInfo{
				Title:        content.Title,
				Description:  content.Caption(),
				PrivacyLevel: privacyLevel,
				AutoAddMusic: true,
			},
			SourceInfo: photoSourceInfo{Source: "PULL_FROM_URL", PhotoImages: photos},
			PostMode:   "DIRECT_POST",
			MediaType:  "PHOTO",
		}
	}

	var resp publishResponse
	if err := a.client.JSON(ctx, http.MethodPost, a.cfg.APIURL+endpoint, creds.AccessToken, body, &resp); err != nil {
		return nil, err
	}
	if err := apiErr(resp.Error); err != nil {
		return nil, err
	}

	return &platform.PublishResult{RemoteID: resp.Data.PublishID}, nil
}

func (a *Adapter) queryCreatorInfo(ctx context.Context, accessToken string) error {
	var resp creatorInfoResponse
	if err := a.client.JSON(ctx, http.MethodPost, a.cfg.APIURL+"/v2/post/publish/creator_info/query/", accessToken, struct{}{}, &resp); err != nil {
		return err
	}
	return apiErr(resp.Error)
}

// Remove is not offered by the TikTok content posting API.
func (a *Adapter) Remove(ctx context.Context, creds platform.Credentials, remoteID string) (bool, error) {
	return false, nil
}

func (a *Adapter) RefreshCredentials(ctx context.Context, refreshToken string) (*platform.Credentials, error) {
	form := url.Values{}
	form.Set("client_key", a.cfg.ClientKey)
	form.Set("client_secret", a.cfg.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	return a.token(ctx, form)
}

func (a *Adapter) Revoke(ctx context.Context, creds platform.Credentials) error {
	form := url.Values{}
	form.Set("client_key", a.cfg.ClientKey)
	form.Set("client_secret", a.cfg.ClientSecret)
	form.Set("token", creds.AccessToken)

	return a.client.Form(ctx, a.cfg.APIURL+"/v2/oauth/revoke/", form, nil)
}

func (a *Adapter) AccountMetrics(ctx context.Context, creds platform.Credentials) (*platform.AccountMetrics, error) {
	u, err := a.userInfo(ctx, creds.AccessToken, "open_id,follower_count,following_count,likes_count,video_count")
	if err != nil {
		return nil, err
	}
	return &platform.AccountMetrics{
		Followers: u.FollowerCount,
		Following: u.FollowingCount,
		Posts:     u.VideoCount,
	}, nil
}

func (a *Adapter) PostMetrics(ctx context.Context, creds platform.Credentials, remoteID string) (*platform.PostMetrics, error) {
	var req videoQueryRequest
	req.Filters.VideoIDs = []string{remoteID}

	var resp videoQueryResponse
	endpoint := a.cfg.APIURL + "/v2/video/query/?fields=id,like_count,comment_count,share_count,view_count"
	if err := a.client.JSON(ctx, http.MethodPost, endpoint, creds.AccessToken, req, &resp); err != nil {
		return nil, err
	}
	if err := apiErr(resp.Error); err != nil {
		return nil, err
	}
	if len(resp.Data.Videos) == 0 {
		return nil, platform.NotFound(Name, "video %s not found", remoteID)
	}

	v := resp.Data.Videos[0]
	return &platform.PostMetrics{
		Likes:       v.LikeCount,
		Comments:    v.CommentCount,
		Shares:      v.ShareCount,
		Impressions: v.ViewCount,
	}, nil
}

func (a *Adapter) userInfo(ctx context.Context, accessToken, fields string) (*user, error) {
	var resp userResponse
	if err := a.client.JSON(ctx, http.MethodGet, a.cfg.APIURL+"/v2/user/info/?fields="+fields, accessToken, nil, &resp); err != nil {
		return nil, err
	}
	if err := apiErr(resp.Error); err != nil {
		return nil, err
	}
	return &resp.Data.User, nil
}

func apiErr(e apiError) error {
	if e.Code == "" || e.Code == "ok" {
		return nil
	}
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if strings.Contains(e.Code, "access_token") || strings.Contains(e.Code, "scope") {
		return platform.Authentication(Name, msg, nil)
	}
	return platform.ExternalAPI(Name, 0, msg, nil)
}
