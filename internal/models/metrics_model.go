package models

import "time"

// AccountMetrics is a daily snapshot, unique per (AccountID, Date).
type AccountMetrics struct {
	ID             int64     `db:"id" json:"id"`
	AccountID      int64     `db:"account_id" json:"account_id"`
	Date           time.Time `db:"date" json:"date"`
	Followers      int64     `db:"followers_count" json:"followers_count"`
	Following      int64     `db:"following_count" json:"following_count"`
	Posts          int64     `db:"posts_count" json:"posts_count"`
	EngagementRate float64   `db:"engagement_rate" json:"engagement_rate"`
	Reach          int64     `db:"reach" json:"reach"`
	Impressions    int64     `db:"impressions" json:"impressions"`
	ProfileViews   int64     `db:"profile_views" json:"profile_views"`
	WebsiteClicks  int64     `db:"website_clicks" json:"website_clicks"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// MetricsDate truncates t to its UTC calendar day.
func MetricsDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
