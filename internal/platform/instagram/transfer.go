package instagram

type shortLivedToken struct {
	AccessToken string `json:"access_token"`
	UserID      int64  `json:"user_id"`
}

type longLivedToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type userInfo struct {
	UserID         string `json:"id"`
	Username       string `json:"username"`
	Name           string `json:"name"`
	ProfilePicture string `json:"profile_picture_url"`
	FollowersCount int64  `json:"followers_count"`
	FollowsCount   int64  `json:"follows_count"`
	MediaCount     int64  `json:"media_count"`
}

type containerRequest struct {
	ImageURL       string `json:"image_url,omitempty"`
	VideoURL       string `json:"video_url,omitempty"`
	MediaType      string `json:"media_type,omitempty"`
	Caption        string `json:"caption,omitempty"`
	IsCarouselItem bool   `json:"is_carousel_item,omitempty"`
	Children       string `json:"children,omitempty"`
	AccessToken    string `json:"access_token"`
}

type publishRequest struct {
	CreationID  string `json:"creation_id"`
	AccessToken string `json:"access_token"`
}

type idResponse struct {
	ID string `json:"id"`
}

type containerStatus struct {
	StatusCode string `json:"status_code"`
}

type mediaInfo struct {
	ID            string `json:"id"`
	Permalink     string `json:"permalink"`
	LikeCount     int64  `json:"like_count"`
	CommentsCount int64  `json:"comments_count"`
}
