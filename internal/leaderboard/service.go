package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/stopgame/internal/domain"
	"github.com/victornm/stopgame/internal/errors"
	"github.com/victornm/stopgame/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
	keyTTL          = 24 * time.Hour
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

// Service keeps the cumulative standings of every room in a Redis sorted set.
type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return s.UpdateLeaderboard(ctx, e.(domain.EventScoreUpdated))
	})

	s.eb.Subscribe(domain.EventNameGameReset, func(ctx context.Context, e event.Event) error {
		return s.ClearLeaderboard(ctx, e.(domain.EventGameReset).RoomCode)
	})

	s.eb.Subscribe(domain.EventNamePlayerLeft, func(ctx context.Context, e event.Event) error {
		ev := e.(domain.EventPlayerLeft)
		return s.RemovePlayer(ctx, ev.RoomCode, ev.PlayerID)
	})

	s.eb.Subscribe(domain.EventNameRoomDeleted, func(ctx context.Context, e event.Event) error {
		return s.ClearLeaderboard(ctx, e.(domain.EventRoomDeleted).RoomCode)
	})

	return s
}

type GetLeaderboardRequest struct {
	RoomCode string
}

// GetLeaderboard returns the leaderboard of a room, players sorted by score in descending order.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.getLeaderboardKey(req.RoomCode), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("leaderboard not found: room=%s", req.RoomCode))
	}

	names, err := s.redis.HGetAll(ctx, s.getNamesKey(req.RoomCode)).Result()
	if err != nil {
		return nil, fmt.Errorf("get player names: %w", err)
	}

	scores := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		id := z.Member.(string)
		scores = append(scores, domain.LeaderboardEntry{
			PlayerID:   id,
			PlayerName: names[id],
			Score:      z.Score,
		})
	}

	return &domain.Leaderboard{
		RoomCode: req.RoomCode,
		Entries:  scores,
	}, nil
}

// UpdateLeaderboard overwrites the scores of the players in the room leaderboard.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventScoreUpdated) error {
	if len(e.Scores) == 0 {
		return nil
	}

	key, names := s.getLeaderboardKey(e.RoomCode), s.getNamesKey(e.RoomCode)

	// TODO: retry on error
	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, sc := range e.Scores {
			p.ZAdd(ctx, key, redis.Z{
				Score:  float64(sc.TotalScore),
				Member: sc.PlayerID,
			})
			p.HSet(ctx, names, sc.PlayerID, sc.PlayerName)
		}
		p.Expire(ctx, key, keyTTL)
		p.Expire(ctx, names, keyTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return s.schedulePublishLeaderboard(ctx, e.RoomCode, e.Scores[0].UpdateTime)
}

// RemovePlayer drops a player who left the room from its standings.
func (s *Service) RemovePlayer(ctx context.Context, roomCode, playerID string) error {
	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, s.getLeaderboardKey(roomCode), playerID)
		p.HDel(ctx, s.getNamesKey(roomCode), playerID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove player: %w", err)
	}

	return nil
}

// ClearLeaderboard removes the standings of a room.
func (s *Service) ClearLeaderboard(ctx context.Context, roomCode string) error {
	err := s.redis.Del(ctx,
		s.getLeaderboardKey(roomCode),
		s.getNamesKey(roomCode),
		s.getLeaderboardTimeKey(roomCode),
	).Err()
	if err != nil {
		return fmt.Errorf("clear leaderboard: %w", err)
	}

	return nil
}

// schedulePublishLeaderboard publishes the leaderboard at most once per interval per room.
// SetNX keeps several instances sharing the same Redis from publishing the same change.
func (s *Service) schedulePublishLeaderboard(ctx context.Context, roomCode string, at time.Time) error {
	ok, err := s.redis.SetNX(ctx, s.getLeaderboardTimeKey(roomCode), at.UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishLeaderboard(ctx, roomCode)
}

func (s *Service) publishLeaderboard(ctx context.Context, roomCode string) error {
	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{
		RoomCode: roomCode,
	})
	if err != nil {
		return fmt.Errorf("get leaderboard failed: room=%s: %w", roomCode, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return nil
}

func (s *Service) getLeaderboardKey(room string) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, room)
}

func (s *Service) getNamesKey(room string) string {
	return fmt.Sprintf("%s:%s:names", s.prefix, room)
}

func (s *Service) getLeaderboardTimeKey(room string) string {
	return fmt.Sprintf("%s:%s:time", s.prefix, room)
}
