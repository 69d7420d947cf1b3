package domain

type PlayerView struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Color        string      `json:"color"`
	TotalScore   int         `json:"totalScore"`
	IsReady      bool        `json:"isReady"`
	State        PlayerState `json:"state"`
	HasSubmitted bool        `json:"hasSubmitted"`
	PressedStop  bool        `json:"pressedStop"`
	Connected    bool        `json:"connected"`
}

// RoomView is the state broadcast to every member of a room.
type RoomView struct {
	Code              string                                `json:"code"`
	Host              string                                `json:"host"`
	Players           []PlayerView                          `json:"players"`
	GameState         GameState                             `json:"gameState"`
	CurrentRound      int                                   `json:"currentRound"`
	TotalRounds       int                                   `json:"totalRounds"`
	CurrentLetter     string                                `json:"currentLetter"`
	CurrentTurnPlayer string                                `json:"currentTurnPlayer"`
	PlayerCount       int                                   `json:"playerCount"`
	MaxPlayers        int                                   `json:"maxPlayers"`
	Categories        []string                              `json:"categories"`
	UsedLetters       []string                              `json:"usedLetters"`
	CountdownActive   bool                                  `json:"countdownActive"`
	ValidationStats   map[string]map[string]ValidationStats `json:"validationStats,omitempty"`
	InvalidatedCount  map[string]int                        `json:"invalidatedCount,omitempty"`
}

// Player returns the view of player id, if present.
func (v RoomView) Player(id string) (PlayerView, bool) {
	for _, p := range v.Players {
		if p.ID == id {
			return p, true
		}
	}
	return PlayerView{}, false
}
