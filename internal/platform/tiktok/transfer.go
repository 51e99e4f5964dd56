package tiktok

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	LogID   string `json:"log_id"`
}

type userResponse struct {
	Data struct {
		User user `json:"user"`
	} `json:"data"`
	Error apiError `json:"error"`
}

type user struct {
	OpenID         string `json:"open_id"`
	AvatarURL      string `json:"avatar_url"`
	DisplayName    string `json:"display_name"`
	Username       string `json:"username"`
	FollowerCount  int64  `json:"follower_count"`
	FollowingCount int64  `json:"following_count"`
	LikesCount     int64  `json:"likes_count"`
	VideoCount     int64  `json:"video_count"`
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int    `json:"expires_in"`
	OpenID           string `json:"open_id"`
	RefreshExpiresIn int    `json:"refresh_expires_in"`
	RefreshToken     string `json:"refresh_token"`
	Scope            string `json:"scope"`
	TokenType        string `json:"token_type"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type publishResponse struct {
	Data struct {
		PublishID string `json:"publish_id"`
	} `json:"data"`
	Error apiError `json:"error"`
}

type creatorInfoResponse struct {
	Data struct {
		CreatorUsername         string   `json:"creator_username"`
		PrivacyLevelOptions     []string `json:"privacy_level_options"`
		MaxVideoPostDurationSec int32    `json:"max_video_post_duration_sec"`
	} `json:"data"`
	Error apiError `json:"error"`
}

type videoPostInfo struct {
	Title                 string `json:"title"`
	PrivacyLevel          string `json:"privacy_level"`
	DisableDuet           bool   `json:"disable_duet"`
	DisableComment        bool   `json:"disable_comment"`
	DisableStitch         bool   `json:"disable_stitch"`
	VideoCoverTimestampMs int    `json:"video_cover_timestamp_ms"`
}

type videoSourceInfo struct {
	Source   string `json:"source"`
	VideoURL string `json:"video_url"`
}

type videoInitRequest struct {
	PostInfo   videoPostInfo   `json:"post_info"`
	SourceInfo videoSourceInfo `json:"source_info"`
}

type photoPostInfo struct {
	Title          string `json:"title"`
	Description    string `json:"description"`
	PrivacyLevel   string `json:"privacy_level"`
	DisableComment bool   `json:"disable_comment"`
	AutoAddMusic   bool   `json:"auto_add_music"`
}

type photoSourceInfo struct {
	Source          string   `json:"source"`
	PhotoCoverIndex int      `json:"photo_cover_index"`
	PhotoImages     []string `json:"photo_images"`
}

type photoInitRequest struct {
	PostInfo   photoPostInfo   `json:"post_info"`
	SourceInfo photoSourceInfo `json:"source_info"`
	PostMode   string          `json:"post_mode"`
	MediaType  string          `json:"media_type"`
}

type videoQueryRequest struct {
	Filters struct {
		VideoIDs []string `json:"video_ids"`
	} `json:"filters"`
}

type videoQueryResponse struct {
	Data struct {
		Videos []struct {
			ID           string `json:"id"`
			LikeCount    int64  `json:"like_count"`
			CommentCount int64  `json:"comment_count"`
			ShareCount   int64  `json:"share_count"`
			ViewCount    int64  `json:"view_count"`
		} `json:"videos"`
	} `json:"data"`
	Error apiError `json:"error"`
}
