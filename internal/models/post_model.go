package models

import "time"

type Post struct {
	ID            int64      `db:"id" json:"id"`
	UserID        int64      `db:"user_id" json:"user_id"`
	Content       string     `db:"content" json:"content"`
	Title         string     `db:"title" json:"title"`
	Hashtags      []string   `db:"hashtags" json:"hashtags"`
	ScheduledTime *time.Time `db:"scheduled_time" json:"scheduled_time,omitempty"`
	Status        string     `db:"status" json:"status"`
	PublishedAt   *time.Time `db:"published_at" json:"published_at,omitempty"`
	Error         string     `db:"error" json:"error,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

type MediaAsset struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	FileName  string    `db:"file_name" json:"file_name"`
	FileType  string    `db:"file_type" json:"file_type"`
	FileSize  int64     `db:"file_size" json:"file_size"`
	FileURL   string    `db:"file_url" json:"file_url"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type PostMedia struct {
	PostID       int64     `db:"post_id"`
	AssetID      int64     `db:"asset_id"`
	DisplayOrder int       `db:"display_order"`
	CreatedAt    time.Time `db:"created_at"`
}

const (
	PostStatusDraft      = "draft"
	PostStatusScheduled  = "scheduled"
	PostStatusPublishing = "publishing"
	PostStatusPublished  = "published"
	PostStatusFailed     = "failed"
)
