package queue

// PublishPostPayload is the payload of a publish_post job. From lists the
// post statuses the dispatch may claim from; empty means scheduled.
type PublishPostPayload struct {
	PostID int64    `json:"post_id"`
	From   []string `json:"from,omitempty"`
}

type SyncMetricsPayload struct {
	AccountID int64 `json:"account_id"`
}
