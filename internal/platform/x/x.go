package x

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/maheshrc27/postcraft/internal/platform"
	"golang.org/x/oauth2"
)

const (
	Name = "x"

	MaxTextLength = 280
	MaxMedia      = 4

	defaultAuthURL  = "https://x.com/i/oauth2/authorize"
	defaultTokenURL = "https://api.x.com/2/oauth2/token"
	defaultAPIURL   = "https://api.x.com"
)

var scopes = []string{"tweet.read", "tweet.write", "users.read", "media.write", "offline.access"}

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string

	AuthURL  string
	TokenURL string
	APIURL   string
}

type Adapter struct {
	cfg    Config
	oauth  *oauth2.Config
	client *platform.Client
}

func New(cfg Config, client *platform.Client) *Adapter {
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}

	return &Adapter{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		client: client,
	}
}

func (a *Adapter) Name() string { return Name }

// AuthURLWithVerifier sends the S256 challenge of verifier, which the
// caller keeps for ConnectWithVerifier.
func (a *Adapter) AuthURLWithVerifier(state, verifier string) string {
	return a.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func (a *Adapter) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, a.client.HTTP())
}

// Connect cannot complete an X authorization: the code is bound to the
// verifier of its flow.
func (a *Adapter) Connect(ctx context.Context, code string) (*platform.Credentials, error) {
	return a.ConnectWithVerifier(ctx, code, "")
}

func (a *Adapter) ConnectWithVerifier(ctx context.Context, code, verifier string) (*platform.Credentials, error) {
	if code == "" {
		return nil, platform.Authentication(Name, "authorization code is empty", nil)
	}
	if verifier == "" {
		return nil, platform.Authentication(Name, "authorization is missing its PKCE verifier", nil)
	}

	token, err := a.oauth.Exchange(a.httpContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, tokenErr(err)
	}

	me, err := a.me(ctx, token.AccessToken)
	if err != nil {
		return nil, err
	}

	return &platform.Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    expiry(token),
		AccountID:    me.ID,
		Profile:      platform.Profile{Name: me.Name, Username: me.Username, PictureURL: me.ProfileImageURL},
	}, nil
}

func validate(content platform.Content) error {
	text := strings.TrimSpace(content.Caption())
	if text == "" && len(content.Media) == 0 {
		return platform.Validation(Name, "x requires text or media")
	}
	if n := utf8.RuneCountInString(text); n > MaxTextLength {
		return platform.Validation(Name, "tweet exceeds %d character limit (%d)", MaxTextLength, n)
	}
	if len(content.Media) > MaxMedia {
		return platform.Validation(Name, "x allows at most %d media items", MaxMedia)
	}
	if v := content.Videos(); v > 0 && len(content.Media) > 1 {
		return platform.Validation(Name, "x accepts a single video and no other media")
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

	req := tweetRequest{Text: strings.TrimSpace(content.Caption())}
	if len(content.Media) > 0 {
		ids := make([]string, 0, len(content.Media))
		for _, m := range content.Media {
			id, err := a.uploadMedia(ctx, creds.AccessToken, m)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		req.Media = &tweetMedia{MediaIDs: ids}
	}

	var resp tweetResponse
	if err := a.client.JSON(ctx, http.MethodPost, a.cfg.APIURL+"/2/tweets", creds.AccessToken, req, &resp); err != nil {
		return nil, err
	}
	if resp.Data.ID == "" {
		return nil, platform.ExternalAPI(Name, 0, "no tweet id returned from x", nil)
	}

	return &platform.PublishResult{
		RemoteID:  resp.Data.ID,
		Permalink: "https://x.com/i/web/status/" + resp.Data.ID,
	}, nil
}

func (a *Adapter) uploadMedia(ctx context.Context, accessToken string, m platform.Media) (string, error) {
	src, err := http.NewRequestWithContext(ctx, http.MethodGet, m.URL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	data, err := a.client.Raw(src)
	if err != nil {
		return "", err
	}

	category := "tweet_image"
	if m.IsVideo() {
		category = "tweet_video"
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if err := w.WriteField("media_category", category); err != nil {
		return "", fmt.Errorf("write media category: %w", err)
	}
	if err := w.WriteField("media_type", m.MIMEType); err != nil {
		return "", fmt.Errorf("write media type: %w", err)
	}
	part, err := w.CreateFormFile("media", "upload")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write media: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.APIURL+"/2/media/upload", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var resp mediaUploadResponse
	if err := a.client.Do(req, &resp); err != nil {
		return "", err
	}
	if resp.Data.ID == "" {
		return "", platform.ExternalAPI(Name, 0, "no media id returned from x", nil)
	}
	return resp.Data.ID, nil
}

func (a *Adapter) Remove(ctx context.Context, creds platform.Credentials, remoteID string) (bool, error) {
	var resp deleteResponse
	if err := a.client.JSON(ctx, http.MethodDelete, a.cfg.APIURL+"/2/tweets/"+remoteID, creds.AccessToken, nil, &resp); err != nil {
		return false, err
	}
	return resp.Data.Deleted, nil
}

func (a *Adapter) RefreshCredentials(ctx context.Context, refreshToken string) (*platform.Credentials, error) {
	token, err := a.oauth.TokenSource(a.httpContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, tokenErr(err)
	}

	return &platform.Credentials{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    expiry(token),
	}, nil
}

func (a *Adapter) AccountMetrics(ctx context.Context, creds platform.Credentials) (*platform.AccountMetrics, error) {
	me, err := a.me(ctx, creds.AccessToken)
	if err != nil {
		return nil, err
	}
	return &platform.AccountMetrics{
		Followers: me.PublicMetrics.FollowersCount,
		Following: me.PublicMetrics.FollowingCount,
		Posts:     me.PublicMetrics.TweetCount,
	}, nil
}

func (a *Adapter) PostMetrics(ctx context.Context, creds platform.Credentials, remoteID string) (*platform.PostMetrics, error) {
	var resp tweetLookupResponse
	endpoint := a.cfg.APIURL + "/2/tweets/" + remoteID + "?tweet.fields=public_metrics"
	if err := a.client.JSON(ctx, http.MethodGet, endpoint, creds.AccessToken, nil, &resp); err != nil {
		return nil, err
	}

	pm := resp.Data.PublicMetrics
	return &platform.PostMetrics{
		Likes:       pm.LikeCount,
		Comments:    pm.ReplyCount,
		Shares:      pm.RetweetCount + pm.QuoteCount,
		Saves:       pm.BookmarkCount,
		Impressions: pm.ImpressionCount,
	}, nil
}

func (a *Adapter) me(ctx context.Context, accessToken string) (*user, error) {
	var resp userResponse
	endpoint := a.cfg.APIURL + "/2/users/me?user.fields=public_metrics,profile_image_url"
	if err := a.client.JSON(ctx, http.MethodGet, endpoint, accessToken, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

func tokenErr(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		msg := rerr.ErrorDescription
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

// X grants two hour user tokens and sometimes omits expires_in.
const tokenLifetime = 2 * time.Hour

func expiry(token *oauth2.Token) time.Time {
	if token.Expiry.IsZero() {
		return time.Now().Add(tokenLifetime)
	}
	return token.Expiry
}
