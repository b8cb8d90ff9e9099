package cache

import (
	"context"
	"fmt"
	"time"
)

const (
	BlogKeyPrefix          = "blog:%d"
	SchoolKeyPrefix        = "school:%d"
	SchoolBalanceKeyPrefix = "school:%d:balance"
	SubmissionKeyPrefix    = "submission:%d"
	BlogListVersionKey     = "blogs:list:version"
	SocialStatusKey        = "social:status"
)

const (
	BlogTTL         = 10 * time.Minute
	SchoolTTL       = 10 * time.Minute
	BalanceTTL      = 30 * time.Second
	SubmissionTTL   = 5 * time.Minute
	ListTTL         = 2 * time.Minute
	SocialStatusTTL = time.Minute
)

func BlogKey(blogID uint) string {
	return fmt.Sprintf(BlogKeyPrefix, blogID)
}

func SchoolKey(schoolID uint) string {
	return fmt.Sprintf(SchoolKeyPrefix, schoolID)
}

func SchoolBalanceKey(schoolID uint) string {
	return fmt.Sprintf(SchoolBalanceKeyPrefix, schoolID)
}

func SubmissionKey(submissionID uint) string {
	return fmt.Sprintf(SubmissionKeyPrefix, submissionID)
}

// BlogListKey returns a list cache key bound to the current list version,
// so bumping the version invalidates every cached page at once.
func BlogListKey(ctx context.Context, scope string) string {
	version := int64(0)
	if client != nil {
		if v, err := client.Get(ctx, BlogListVersionKey).Int64(); err == nil {
			version = v
		}
	}
	return fmt.Sprintf("blogs:list:v%d:%s", version, scope)
}

// Invalidate removes a key. It is a no-op without a Redis client.
func Invalidate(ctx context.Context, key string) {
	if client != nil {
		client.Del(ctx, key)
	}
}

// InvalidateBlogLists bumps the list version.
func InvalidateBlogLists(ctx context.Context) {
	if client != nil {
		client.Incr(ctx, BlogListVersionKey)
	}
}

// InvalidateBlog drops a blog and every cached blog list.
func InvalidateBlog(ctx context.Context, blogID uint) {
	Invalidate(ctx, BlogKey(blogID))
	InvalidateBlogLists(ctx)
}

// InvalidateSchool drops a school and its cached balance.
func InvalidateSchool(ctx context.Context, schoolID uint) {
	Invalidate(ctx, SchoolKey(schoolID))
	Invalidate(ctx, SchoolBalanceKey(schoolID))
}
