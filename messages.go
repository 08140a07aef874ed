package main

import (
	"time"
)

// Messages coming from clients
type clientMessage struct {
	Type           string            `json:"type"`                     // "create-room", "join-room", "start-quiz", "submit-answer", "next-question"
	HostName       string            `json:"hostName,omitempty"`       // create-room
	Questions      []questionPayload `json:"questions,omitempty"`      // create-room
	CustomRoomCode string            `json:"customRoomCode,omitempty"` // create-room
	RoomCode       string            `json:"roomCode,omitempty"`       // join-room / start-quiz / submit-answer / next-question
	PlayerName     string            `json:"playerName,omitempty"`     // join-room
	Answer         *int              `json:"answer,omitempty"`         // submit-answer; pointer so a missing index stays distinguishable
	TimeSpent      int               `json:"timeSpent,omitempty"`      // submit-answer, seconds
}

// A question as supplied by the host at room creation.
type questionPayload struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
}

// simpleMessage is for generic notifications ("join-error", "answer-error", etc.)
type simpleMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Sent to the creator once their room exists.
type roomCreatedMessage struct {
	Type          string `json:"type"` // "room-created"
	RoomCode      string `json:"roomCode"`
	QuestionCount int    `json:"questionCount"`
	IsHost        bool   `json:"isHost"`
}

// playerView is the roster entry shape shared by roster broadcasts.
type playerView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Score     int       `json:"score"`
	Connected bool      `json:"connected"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// Sent to the joiner only.
type roomJoinedMessage struct {
	Type     string       `json:"type"` // "room-joined"
	RoomCode string       `json:"roomCode"`
	IsHost   bool         `json:"isHost"`
	Players  []playerView `json:"players"`
	HostName string       `json:"hostName"`
}

// Broadcast to the whole room when the roster grows.
type playerJoinedMessage struct {
	Type        string       `json:"type"` // "player-joined"
	Player      playerView   `json:"player"`
	PlayerCount int          `json:"playerCount"`
	Players     []playerView `json:"players"`
}

// Broadcast to the whole room when a player leaves.
type playerLeftMessage struct {
	Type        string       `json:"type"` // "player-left"
	PlayerID    string       `json:"playerId"`
	PlayerCount int          `json:"playerCount"`
	Players     []playerView `json:"players"`
}

// Broadcast when the quiz starts or advances; same shape for both.
type questionMessage struct {
	Type           string   `json:"type"` // "quiz-started" or "next-question"
	Question       string   `json:"question"`
	Options        []string `json:"options"`
	QuestionNumber int      `json:"questionNumber"`
	TotalQuestions int      `json:"totalQuestions"`
	TimeLimit      int      `json:"timeLimit"` // seconds
}

// Sent to the submitter only.
type answerResultMessage struct {
	Type          string `json:"type"` // "answer-result"
	IsCorrect     bool   `json:"isCorrect"`
	Score         int    `json:"score"` // points gained this round
	CorrectAnswer int    `json:"correctAnswer"`
	CurrentScore  int    `json:"currentScore"`
}

// standing is one leaderboard row.
type standing struct {
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// Broadcast to the whole room after each answer.
type leaderboardMessage struct {
	Type        string     `json:"type"` // "leaderboard-update"
	Leaderboard []standing `json:"leaderboard"`
}

// Broadcast to the whole room once the last question is done.
type quizFinishedMessage struct {
	Type             string     `json:"type"` // "quiz-finished"
	FinalLeaderboard []standing `json:"finalLeaderboard"`
	Winner           *standing  `json:"winner"`
}
