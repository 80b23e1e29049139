package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Ashahluwxlia/SDPPROJECTRAWVERSION-sub002/domain"
)

// SubscribeEvents consumes canonical events from the Redis channel and fans
// them out to the owning board's room. The loop reconnects with a short pause
// when the pub/sub channel closes; events missed during that window are lost
// to subscribers, which is why reconnecting clients always resync.
func SubscribeEvents(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, h *Hub) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var ev domain.CanonicalEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.WithError(err).Error("unable to parse canonical event")
					continue
				}
				if ev.BoardID == "" {
					logger.Warn("canonical event without board id, dropping")
					continue
				}
				h.Broadcast(ev.BoardID, []byte(msg.Payload), "")
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("event channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}
