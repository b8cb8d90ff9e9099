// Package notifications publishes pipeline events (status changes, publishes,
// balance changes) over Redis pub/sub.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event types.
const (
	EventSubmissionCreated = "submission.created"
	EventBlogStatusChanged = "blog.status_changed"
	EventBlogPublished     = "blog.published"
	EventBalanceChanged    = "school.balance_changed"
	EventSocialDispatched  = "social.dispatched"
	EventTokenRefreshed    = "social.token_refreshed"
)

const (
	staffChannel         = "pipeline:staff"
	schoolChannelPattern = "pipeline:school:*"
)

// Event is the payload published on pipeline channels.
type Event struct {
	Type         string    `json:"type"`
	SchoolID     uint      `json:"school_id,omitempty"`
	SubmissionID uint      `json:"submission_id,omitempty"`
	BlogID       uint      `json:"blog_id,omitempty"`
	Status       string    `json:"status,omitempty"`
	Balance      *int64    `json:"balance,omitempty"`
	Message      string    `json:"message,omitempty"`
	At           time.Time `json:"at"`
}

// Notifier provides helpers to publish pipeline events into Redis channels.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
// A nil client turns every publish into a no-op.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// PublishSchool sends an event to a school's channel and mirrors it to staff.
func (n *Notifier) PublishSchool(ctx context.Context, schoolID uint, event Event) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	event.SchoolID = schoolID
	payload, err := encode(event)
	if err != nil {
		return err
	}
	pipe := n.rdb.Pipeline()
	pipe.Publish(ctx, SchoolChannel(schoolID), payload)
	pipe.Publish(ctx, staffChannel, payload)
	_, err = pipe.Exec(ctx)
	return err
}

// PublishStaff sends an event only to the admin/writer channel.
func (n *Notifier) PublishStaff(ctx context.Context, event Event) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	payload, err := encode(event)
	if err != nil {
		return err
	}
	return n.rdb.Publish(ctx, staffChannel, payload).Err()
}

func encode(event Event) (string, error) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}
	return string(raw), nil
}

// StartSubscriber subscribes to school and staff channels and calls onEvent for
// each decodable message until ctx is cancelled.
func (n *Notifier) StartSubscriber(ctx context.Context, onEvent func(channel string, event Event)) error {
	if n == nil || n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, schoolChannelPattern, staffChannel)
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Printf("PANIC in pipeline subscriber: %v\n%s", r, debug.Stack())
						}
					}()
					var event Event
					if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
						log.Printf("pipeline subscriber: dropping malformed event on %s: %v", msg.Channel, err)
						return
					}
					onEvent(msg.Channel, event)
				}()
			}
		}
	}()

	return nil
}

// SchoolChannel derives the Redis channel name for a school.
func SchoolChannel(schoolID uint) string {
	return "pipeline:school:" + strconv.FormatUint(uint64(schoolID), 10)
}

// StaffChannel returns the channel every staff event is mirrored to.
func StaffChannel() string {
	return staffChannel
}
