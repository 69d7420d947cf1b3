package domain

// GameState is the state of a room's game.
type GameState string

const (
	StateLobby           GameState = "lobby"
	StateSelectingLetter GameState = "selecting_letter"
	StatePlaying         GameState = "playing"
	StateCountdown       GameState = "countdown"
	StateDiscussion      GameState = "discussion"
	StateRoundResults    GameState = "round_results"
	StateFinished        GameState = "finished"
)

type PlayerState string

const (
	PlayerWaiting   PlayerState = "waiting"
	PlayerWriting   PlayerState = "writing"
	PlayerSubmitted PlayerState = "submitted"
	PlayerReady     PlayerState = "ready"
)

const (
	PointsUnique   = 100
	PointsRepeated = 50
	PointsEmpty    = 0
)

const (
	RoomCodeLength = 6
	// RoomCodeChars excludes I, O, 0 and 1.
	RoomCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

	MinNameLength = 2
	MaxNameLength = 20
)

var DefaultCategories = []string{
	"nombre",
	"apellido",
	"ciudad",
	"pais",
	"animal",
	"artista",
	"novela",
	"fruta",
	"cosa",
}

var PlayerColors = []string{
	"#ef4444", // red
	"#f59e0b", // amber
	"#10b981", // emerald
	"#3b82f6", // blue
	"#8b5cf6", // violet
	"#ec4899", // pink
	"#14b8a6", // teal
	"#f97316", // orange
}
