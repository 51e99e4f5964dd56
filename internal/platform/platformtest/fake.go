// Package platformtest provides an in-memory Adapter for tests.
package platformtest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maheshrc27/postcraft/internal/platform"
)

// Fake is a scriptable platform.Adapter. Unset funcs succeed with
// deterministic values.
type Fake struct {
	Platform string

	PublishFunc func(ctx context.Context, creds platform.Credentials, content platform.Content) (*platform.PublishResult, error)
	RefreshFunc func(ctx context.Context, refreshToken string) (*platform.Credentials, error)
	MetricsFunc func(ctx context.Context, creds platform.Credentials) (*platform.AccountMetrics, error)

	publishCalls atomic.Int64
	refreshCalls atomic.Int64
	metricCalls  atomic.Int64

	mu       sync.Mutex
	received []platform.Credentials
}

func New(name string) *Fake {
	return &Fake{Platform: name}
}

func (f *Fake) Name() string { return f.Platform }

func (f *Fake) Connect(ctx context.Context, code string) (*platform.Credentials, error) {
	if code == "" {
		return nil, platform.Authentication(f.Platform, "missing authorization code", nil)
	}
	return &platform.Credentials{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		ExpiresAt:    time.Now().Add(24 * time.Hour),
		AccountID:    f.Platform + "-account",
		Profile:      platform.Profile{Name: "Test User", Username: "tester"},
	}, nil
}

func (f *Fake) Publish(ctx context.Context, creds platform.Credentials, content platform.Content) (*platform.PublishResult, error) {
	n := f.publishCalls.Add(1)

	f.mu.Lock()
	f.received = append(f.received, creds)
	f.mu.Unlock()

	if f.PublishFunc != nil {
		return f.PublishFunc(ctx, creds, content)
	}
	id := fmt.Sprintf("%s-%d", f.Platform, n)
	return &platform.PublishResult{RemoteID: id, Permalink: "https://example.com/" + id}, nil
}

func (f *Fake) Remove(ctx context.Context, creds platform.Credentials, remoteID string) (bool, error) {
	return true, nil
}

func (f *Fake) RefreshCredentials(ctx context.Context, refreshToken string) (*platform.Credentials, error) {
	f.refreshCalls.Add(1)
	if f.RefreshFunc != nil {
		return f.RefreshFunc(ctx, refreshToken)
	}
	return &platform.Credentials{
		AccessToken:  "refreshed-access",
		RefreshToken: refreshToken,
		ExpiresAt:    time.Now().Add(24 * time.Hour),
	}, nil
}

func (f *Fake) AccountMetrics(ctx context.Context, creds platform.Credentials) (*platform.AccountMetrics, error) {
	f.metricCalls.Add(1)
	if f.MetricsFunc != nil {
		return f.MetricsFunc(ctx, creds)
	}
	return &platform.AccountMetrics{Followers: 100, Following: 10, Posts: 5, EngagementRate: 2.5}, nil
}

func (f *Fake) PostMetrics(ctx context.Context, creds platform.Credentials, remoteID string) (*platform.PostMetrics, error) {
	return &platform.PostMetrics{Likes: 10, Comments: 2, Shares: 1}, nil
}

func (f *Fake) PublishCalls() int { return int(f.publishCalls.Load()) }
func (f *Fake) RefreshCalls() int { return int(f.refreshCalls.Load()) }
func (f *Fake) MetricCalls() int  { return int(f.metricCalls.Load()) }

// ReceivedCredentials returns the credentials passed to each Publish call.
func (f *Fake) ReceivedCredentials() []platform.Credentials {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]platform.Credentials, len(f.received))
	copy(out, f.received)
	return out
}
