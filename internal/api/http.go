package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/victornm/stopgame/internal/domain"
	"github.com/victornm/stopgame/internal/errors"
	"github.com/victornm/stopgame/internal/history"
	"github.com/victornm/stopgame/internal/leaderboard"
)

// Register mounts the WebSocket endpoint and the HTTP API on e.
func (a *Router) Register(e *gin.Engine) {
	e.GET("/ws", a.ServeWS)
	e.GET("/health", a.health)

	e.GET("/rooms/:code", a.getRoom)
	e.GET("/rooms/:code/leaderboard", a.getLeaderboard)

	g := e.Group("/api")
	g.GET("/info", a.getInfo)
	g.GET("/stats", a.getStats)
	g.GET("/history", a.listHistory)
}

func (a *Router) health(c *gin.Context) {
	st := a.rooms.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"rooms":       st.TotalRooms,
		"players":     st.TotalPlayers,
		"connections": a.hub.Connections(),
	})
}

func (a *Router) getInfo(c *gin.Context) {
	c.JSON(http.StatusOK, a.info)
}

func (a *Router) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, a.rooms.Stats())
}

func (a *Router) getRoom(c *gin.Context) {
	code, err := domain.ValidateRoomCode(c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}

	v, err := a.engine.Room(c, code)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, v)
}

func (a *Router) getLeaderboard(c *gin.Context) {
	if a.leaderboard == nil {
		writeError(c, unavailable("leaderboard"))
		return
	}

	code, err := domain.ValidateRoomCode(c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}

	l, err := a.leaderboard.GetLeaderboard(c, leaderboard.GetLeaderboardRequest{
		RoomCode: code,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, leaderboardData(*l))
}

func (a *Router) listHistory(c *gin.Context) {
	if a.history == nil {
		writeError(c, unavailable("history"))
		return
	}

	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(c, invalidRequest("invalid limit: %s", s))
			return
		}
		limit = n
	}

	games, err := a.history.ListGames(c, history.ListGamesRequest{
		RoomCode: c.Query("room"),
		Limit:    limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"games": games})
}

func unavailable(feature string) error {
	return errors.New(errors.CodeUnavailable, errors.WithMessagef("%s is disabled", feature))
}

func writeError(c *gin.Context, err error) {
	e := errors.Convert(err)
	c.AbortWithStatusJSON(e.HTTPStatusCode(), errorData(err))
}
