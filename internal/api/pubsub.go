package api

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/stopgame/internal/domain"
)

const maxConcurrent = 100

// PublishLeaderboardUpdated sends the leaderboard to the room and to the pub/sub channel of every ranked player.
func (a *Router) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	data := leaderboardData(e.Leaderboard)
	n := Notification{
		Event: EventLeaderboardUpdated,
		Data:  data,
	}

	if err := a.hub.Broadcast(ctx, data.RoomCode, n); err != nil {
		return err
	}

	if a.hub.redis == nil {
		return nil
	}

	b, err := n.marshal()
	if err != nil {
		return err
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, entry := range data.Entries {
		eg.Go(func() error {
			return a.hub.publish(ctx, a.hub.playerChannel(entry.PlayerID), b)
		})
	}

	return eg.Wait()
}

func (h *Hub) publish(ctx context.Context, channel string, b []byte) error {
	if h.redis == nil {
		return nil
	}

	if err := h.redis.Publish(ctx, channel, b).Err(); err != nil {
		return fmt.Errorf("pubsub: publish %s: %w", channel, err)
	}

	return nil
}
