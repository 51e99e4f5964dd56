package transfer

import (
	"time"

	"github.com/maheshrc27/postcraft/internal/models"
	"github.com/maheshrc27/postcraft/internal/platform"
)

// PostCreation carries the form fields of a new post. SelectedAccounts is a
// JSON array of account ids and MediaURLs a JSON array of public URLs.
type PostCreation struct {
	Caption          string
	Title            string
	Hashtags         string
	ScheduledTime    string
	SelectedAccounts string
	MediaURLs        string
	Draft            bool
}

type PostView struct {
	*models.Post
	Media   []*models.MediaAsset    `json:"media"`
	Records []*models.PublishRecord `json:"records"`
}

type JobAccepted struct {
	JobID string `json:"job_id"`
}

type DestinationMetrics struct {
	AccountID int64                 `json:"account_id"`
	Platform  string                `json:"platform"`
	RemoteID  string                `json:"remote_id"`
	Metrics   *platform.PostMetrics `json:"metrics,omitempty"`
	Error     string                `json:"error,omitempty"`
}

type JobView struct {
	*models.Job
	Attempts []*models.JobAttempt `json:"attempts"`
}

type AnalyticsOverview struct {
	UserID                int64            `json:"user_id"`
	ConnectedAccounts     int              `json:"connected_accounts"`
	TotalFollowers        int64            `json:"total_followers"`
	AverageEngagementRate float64          `json:"average_engagement_rate"`
	PostsByStatus         map[string]int64 `json:"posts_by_status"`
	GeneratedAt           time.Time        `json:"generated_at"`
}
