package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatestRecords(t *testing.T) {
	records := []*PublishRecord{
		{ID: 1, AccountID: 10, Attempt: 1, Status: RecordStatusFailed},
		{ID: 2, AccountID: 11, Attempt: 1, Status: RecordStatusSuccess},
		{ID: 3, AccountID: 10, Attempt: 2, Status: RecordStatusSuccess},
	}

	latest := LatestRecords(records)

	assert.Len(t, latest, 2)
	assert.Equal(t, int64(3), latest[10].ID)
	assert.Equal(t, RecordStatusSuccess, latest[10].Status)
	assert.Equal(t, int64(2), latest[11].ID)
}

func TestMetricsDate(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)
	ts := time.Date(2024, 3, 2, 2, 30, 0, 0, loc)

	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), MetricsDate(ts))
}
