package main

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Room lifecycle: waiting → active → finished. No skips, no reversals.
type roomState string

const (
	stateWaiting  roomState = "waiting"
	stateActive   roomState = "active"
	stateFinished roomState = "finished"
)

const baseScore = 100

var (
	errAlreadyAnswered = errors.New("you have already answered this question")

	// These two are handled by dropping the event, never surfaced to clients.
	errQuizNotActive = errors.New("quiz is not active")
	errNotInRoster   = errors.New("connection is not a player in this room")
)

// Question is fixed at room creation and never mutated afterwards.
type Question struct {
	Text         string
	Options      []string
	CorrectIndex int
}

// Player holds the data we store server-side; scores live on the Room.
type Player struct {
	ID        string
	Name      string
	Connected bool
	JoinedAt  time.Time
}

// Room is the per-code game session. All fields are guarded by the
// owning Registry's mutex; every handler runs to completion under it,
// so reads and read-modify-writes here need no further locking.
type Room struct {
	code      string
	hostID    string
	hostName  string
	players   []*Player
	questions []Question
	cursor    int
	state     roomState
	scores    map[string]int
	answered  map[string]bool
	timeLimit int // seconds per question

	createdAt  time.Time
	lastActive time.Time

	clients map[*Client]bool
	timer   *time.Timer
}

func newRoom(code, hostID, hostName string, questions []Question, timeLimit int) *Room {
	now := time.Now()
	return &Room{
		code:       code,
		hostID:     hostID,
		hostName:   hostName,
		questions:  questions,
		state:      stateWaiting,
		scores:     make(map[string]int),
		answered:   make(map[string]bool),
		timeLimit:  timeLimit,
		createdAt:  now,
		lastActive: now,
		clients:    make(map[*Client]bool),
	}
}

// addPlayer appends a player to the roster with a fresh zero score entry.
// Names are defaulted to "Player N" when empty.
func (r *Room) addPlayer(c *Client, name string) *Player {
	if name == "" {
		name = fmt.Sprintf("Player %d", len(r.players)+1)
	}

	player := &Player{
		ID:        c.id,
		Name:      name,
		Connected: true,
		JoinedAt:  time.Now(),
	}

	r.players = append(r.players, player)
	r.scores[c.id] = 0
	r.clients[c] = true
	r.lastActive = time.Now()

	return player
}

// removePlayer drops the roster and score entries for a connection.
// Returns false if the connection was never a player here.
func (r *Room) removePlayer(connID string) bool {
	dst := r.players[:0]
	removed := false

	for _, p := range r.players {
		if p.ID == connID {
			removed = true
			continue
		}
		dst = append(dst, p)
	}
	r.players = dst

	if removed {
		delete(r.scores, connID)
		delete(r.answered, connID)
		r.lastActive = time.Now()
	}

	return removed
}

// start transitions waiting → active. Requires at least one player;
// returns false without mutating anything otherwise.
func (r *Room) start() bool {
	if r.state != stateWaiting || len(r.players) == 0 {
		return false
	}

	r.state = stateActive
	r.cursor = 0
	r.answered = make(map[string]bool)
	r.lastActive = time.Now()

	return true
}

// current returns the question under the cursor, if any.
func (r *Room) current() (Question, bool) {
	if r.cursor < 0 || r.cursor >= len(r.questions) {
		return Question{}, false
	}
	return r.questions[r.cursor], true
}

// advance moves the cursor to the next question, resetting the answered
// set. Returns true once the cursor runs past the final question, which
// forces the active → finished transition.
func (r *Room) advance() (finished bool) {
	r.cursor++
	r.answered = make(map[string]bool)
	r.lastActive = time.Now()

	if r.cursor >= len(r.questions) {
		r.state = stateFinished
		return true
	}

	return false
}

type answerOutcome struct {
	correct      bool
	gained       int
	total        int
	correctIndex int
}

// submit scores an answer for the question under the cursor. An
// out-of-range or missing index is simply incorrect, never a fault.
// Duplicate submissions for the same question are rejected.
func (r *Room) submit(connID string, answer *int, timeSpent int) (answerOutcome, error) {
	if r.state != stateActive {
		return answerOutcome{}, errQuizNotActive
	}
	if _, joined := r.scores[connID]; !joined {
		return answerOutcome{}, errNotInRoster
	}
	if r.answered[connID] {
		return answerOutcome{}, errAlreadyAnswered
	}

	question, ok := r.current()
	if !ok {
		return answerOutcome{}, errQuizNotActive
	}

	outcome := answerOutcome{
		correctIndex: question.CorrectIndex,
	}

	if answer != nil && *answer == question.CorrectIndex {
		outcome.correct = true
		outcome.gained = scoreFor(r.timeLimit, timeSpent)
		r.scores[connID] += outcome.gained
	}

	r.answered[connID] = true
	r.lastActive = time.Now()
	outcome.total = r.scores[connID]

	return outcome, nil
}

// scoreFor awards a fixed base plus a linear time bonus that saturates
// at zero once the limit is spent. timeSpent is client-reported, so a
// negative value is clamped rather than allowed to inflate the bonus.
func scoreFor(limit, timeSpent int) int {
	if timeSpent < 0 {
		timeSpent = 0
	}

	bonus := (limit - timeSpent) * 2
	if bonus < 0 {
		bonus = 0
	}
	return baseScore + bonus
}

// leaderboard returns (name, score) pairs sorted descending by score.
// The sort is stable over join order, so ties list the earlier joiner first.
func (r *Room) leaderboard() []standing {
	board := make([]standing, 0, len(r.players))
	for _, p := range r.players {
		board = append(board, standing{
			Name:  p.Name,
			Score: r.scores[p.ID],
		})
	}

	sort.SliceStable(board, func(i, j int) bool {
		return board[i].Score > board[j].Score
	})

	return board
}

// playerViews snapshots the roster in join order for roster broadcasts.
func (r *Room) playerViews() []playerView {
	views := make([]playerView, 0, len(r.players))
	for _, p := range r.players {
		views = append(views, playerView{
			ID:        p.ID,
			Name:      p.Name,
			Score:     r.scores[p.ID],
			Connected: p.Connected,
			JoinedAt:  p.JoinedAt,
		})
	}
	return views
}

// questionMessageFor builds the broadcast frame for the question under
// the cursor.
func (r *Room) questionMessageFor(msgType string) (questionMessage, bool) {
	question, ok := r.current()
	if !ok {
		return questionMessage{}, false
	}

	return questionMessage{
		Type:           msgType,
		Question:       question.Text,
		Options:        question.Options,
		QuestionNumber: r.cursor + 1,
		TotalQuestions: len(r.questions),
		TimeLimit:      r.timeLimit,
	}, true
}

// stopTimer cancels any pending auto-advance timer. Safe to call when
// none is armed.
func (r *Room) stopTimer() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
