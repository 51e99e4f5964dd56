package x

type tweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

type tweetRequest struct {
	Text  string      `json:"text,omitempty"`
	Media *tweetMedia `json:"media,omitempty"`
}

type tweetResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

type deleteResponse struct {
	Data struct {
		Deleted bool `json:"deleted"`
	} `json:"data"`
}

type mediaUploadResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

type user struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Username        string `json:"username"`
	ProfileImageURL string `json:"profile_image_url"`
	PublicMetrics   struct {
		FollowersCount int64 `json:"followers_count"`
		FollowingCount int64 `json:"following_count"`
		TweetCount     int64 `json:"tweet_count"`
		ListedCount    int64 `json:"listed_count"`
	} `json:"public_metrics"`
}

type userResponse struct {
	Data user `json:"data"`
}

type tweetLookupResponse struct {
	Data struct {
		ID            string `json:"id"`
		PublicMetrics struct {
			RetweetCount    int64 `json:"retweet_count"`
			ReplyCount      int64 `json:"reply_count"`
			LikeCount       int64 `json:"like_count"`
			QuoteCount      int64 `json:"quote_count"`
			BookmarkCount   int64 `json:"bookmark_count"`
			ImpressionCount int64 `json:"impression_count"`
		} `json:"public_metrics"`
	} `json:"data"`
}
