package models

import "time"

// PublishRecord is one destination outcome for one dispatch attempt of a
// post. Rows are only ever appended.
type PublishRecord struct {
	ID        int64     `db:"id" json:"id"`
	PostID    int64     `db:"post_id" json:"post_id"`
	AccountID int64     `db:"account_id" json:"account_id"`
	Platform  string    `db:"platform" json:"platform"`
	RemoteID  string    `db:"remote_id" json:"remote_id,omitempty"`
	Permalink string    `db:"permalink" json:"permalink,omitempty"`
	Status    string    `db:"status" json:"status"`
	Error     string    `db:"error" json:"error,omitempty"`
	Attempt   int       `db:"attempt" json:"attempt"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

const (
	RecordStatusPending = "pending"
	RecordStatusSuccess = "success"
	RecordStatusFailed  = "failed"
)

// LatestRecords returns the most recent record per account, keyed by account id.
func LatestRecords(records []*PublishRecord) map[int64]*PublishRecord {
	latest := make(map[int64]*PublishRecord, len(records))
	for _, r := range records {
		cur, ok := latest[r.AccountID]
		if !ok || r.Attempt > cur.Attempt || (r.Attempt == cur.Attempt && r.ID > cur.ID) {
			latest[r.AccountID] = r
		}
	}
	return latest
}
