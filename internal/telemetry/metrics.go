package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stopgame"

var (
	RoomsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rooms_created_total",
		Help:      "Number of rooms created.",
	})

	RoomsDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rooms_deleted_total",
		Help:      "Number of rooms deleted, by reason.",
	}, []string{"reason"})

	RoomsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rooms_active",
		Help:      "Number of rooms with at least one player at the last stats collection.",
	})

	PlayersConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "players",
		Help:      "Number of players in rooms at the last stats collection.",
	})

	GamesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "games_started_total",
		Help:      "Number of games started.",
	})

	GamesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "games_finished_total",
		Help:      "Number of games that left play, by outcome (finished, restarted, cancelled).",
	}, []string{"outcome"})

	RoundsScored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rounds_scored_total",
		Help:      "Number of rounds scored.",
	})

	Countdowns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "countdowns_total",
		Help:      "Number of countdowns, by how they ended (expired, cancelled).",
	}, []string{"result"})

	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections",
		Help:      "Number of open WebSocket connections.",
	})

	Messages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ws_messages_total",
		Help:      "Number of inbound WebSocket messages, by type and result.",
	}, []string{"type", "result"})
)
