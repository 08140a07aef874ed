package main

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGateway() *Gateway {
	return newGateway(&Config{
		questionTimer: 30 * time.Second,
	})
}

// drain empties a client's send buffer and returns the queued frames.
func drain(c *Client) []any {
	var out []any
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func intPtr(v int) *int {
	return &v
}

// sendClosed drains a client's send buffer and reports whether the
// channel has been closed behind it.
func sendClosed(c *Client) bool {
	for {
		select {
		case _, ok := <-c.send:
			if !ok {
				return true
			}
		default:
			return false
		}
	}
}

// createTestRoom runs a create-room dispatch and returns the assigned code.
func createTestRoom(t *testing.T, g *Gateway, host *Client, questions int) string {
	t.Helper()

	g.dispatch(host, clientMessage{
		Type:      "create-room",
		HostName:  "Hannah",
		Questions: testPayloads(questions),
	})

	frames := drain(host)
	require.Len(t, frames, 1)

	created, ok := frames[0].(roomCreatedMessage)
	require.True(t, ok, "expected room-created, got %T", frames[0])
	assert.True(t, created.IsHost)
	assert.Equal(t, questions, created.QuestionCount)

	return created.RoomCode
}

// joinTestRoom runs a join-room dispatch and asserts success.
func joinTestRoom(t *testing.T, g *Gateway, c *Client, code, name string) {
	t.Helper()

	g.dispatch(c, clientMessage{Type: "join-room", RoomCode: code, PlayerName: name})

	frames := drain(c)
	require.NotEmpty(t, frames)

	joined, ok := frames[len(frames)-1].(roomJoinedMessage)
	require.True(t, ok, "expected room-joined, got %T", frames[len(frames)-1])
	assert.Equal(t, code, joined.RoomCode)
	assert.False(t, joined.IsHost)
}

func TestGatewayCreateRoom(t *testing.T) {
	g := testGateway()
	host := testClient("host")

	code := createTestRoom(t, g, host, 3)
	assert.Regexp(t, regexp.MustCompile(`^[A-Z0-9]{6}$`), code)
	assert.Equal(t, code, g.reg.conns["host"], "creator is routed for disconnects")
}

func TestGatewayCreateRoomErrors(t *testing.T) {
	g := testGateway()

	t.Run("invalid custom code", func(t *testing.T) {
		c := testClient("c1")
		g.dispatch(c, clientMessage{
			Type:           "create-room",
			Questions:      testPayloads(1),
			CustomRoomCode: "AB",
		})

		frames := drain(c)
		require.Len(t, frames, 1)
		failure, ok := frames[0].(simpleMessage)
		require.True(t, ok)
		assert.Equal(t, "join-error", failure.Type)
		assert.Equal(t, errInvalidRoomCode.Error(), failure.Message)
	})

	t.Run("taken custom code", func(t *testing.T) {
		first := testClient("c2")
		g.dispatch(first, clientMessage{
			Type:           "create-room",
			Questions:      testPayloads(1),
			CustomRoomCode: "ROOM1",
		})
		drain(first)

		second := testClient("c3")
		g.dispatch(second, clientMessage{
			Type:           "create-room",
			Questions:      testPayloads(1),
			CustomRoomCode: "ROOM1",
		})

		frames := drain(second)
		require.Len(t, frames, 1)
		failure, ok := frames[0].(simpleMessage)
		require.True(t, ok)
		assert.Equal(t, errRoomCodeTaken.Error(), failure.Message)
	})

	t.Run("no valid questions", func(t *testing.T) {
		c := testClient("c4")
		g.dispatch(c, clientMessage{Type: "create-room", HostName: "Hannah"})

		frames := drain(c)
		require.Len(t, frames, 1)
		failure, ok := frames[0].(simpleMessage)
		require.True(t, ok)
		assert.Equal(t, errNoValidQuestions.Error(), failure.Message)
	})
}

func TestGatewayJoinErrors(t *testing.T) {
	g := testGateway()

	t.Run("unknown room", func(t *testing.T) {
		c := testClient("p1")
		g.dispatch(c, clientMessage{Type: "join-room", RoomCode: "NOPE42", PlayerName: "Alice"})

		frames := drain(c)
		require.Len(t, frames, 1)
		failure, ok := frames[0].(simpleMessage)
		require.True(t, ok)
		assert.Equal(t, "join-error", failure.Type)
		assert.Equal(t, errRoomNotFound.Error(), failure.Message)
		assert.Empty(t, g.reg.conns["p1"], "failed join must not associate the connection")
	})

	t.Run("game in progress", func(t *testing.T) {
		host := testClient("host")
		code := createTestRoom(t, g, host, 1)

		p1 := testClient("p1")
		joinTestRoom(t, g, p1, code, "Alice")
		g.dispatch(host, clientMessage{Type: "start-quiz", RoomCode: code})
		drain(host)
		drain(p1)

		late := testClient("p2")
		g.dispatch(late, clientMessage{Type: "join-room", RoomCode: code, PlayerName: "Bob"})

		frames := drain(late)
		require.Len(t, frames, 1)
		failure, ok := frames[0].(simpleMessage)
		require.True(t, ok)
		assert.Equal(t, errGameInProgress.Error(), failure.Message)
	})
}

func TestGatewayJoinBroadcastsRoster(t *testing.T) {
	g := testGateway()
	host := testClient("host")
	code := createTestRoom(t, g, host, 1)

	p1 := testClient("p1")
	joinTestRoom(t, g, p1, code, "Alice")

	frames := drain(host)
	require.Len(t, frames, 1)
	joined, ok := frames[0].(playerJoinedMessage)
	require.True(t, ok, "host hears about the new player")
	assert.Equal(t, "Alice", joined.Player.Name)
	assert.Equal(t, 1, joined.PlayerCount)

	p2 := testClient("p2")
	joinTestRoom(t, g, p2, code, "Bob")

	frames = drain(p1)
	require.Len(t, frames, 1)
	joined, ok = frames[0].(playerJoinedMessage)
	require.True(t, ok, "existing players hear about the new player")
	assert.Equal(t, "Bob", joined.Player.Name)
	assert.Equal(t, 2, joined.PlayerCount)
	assert.Len(t, joined.Players, 2)
}

func TestGatewayStartQuiz(t *testing.T) {
	t.Run("requires a player", func(t *testing.T) {
		g := testGateway()
		host := testClient("host")
		code := createTestRoom(t, g, host, 1)

		g.dispatch(host, clientMessage{Type: "start-quiz", RoomCode: code})

		assert.Empty(t, drain(host))
		assert.Equal(t, stateWaiting, g.reg.getLocked(code).state)
	})

	t.Run("host only", func(t *testing.T) {
		g := testGateway()
		host := testClient("host")
		code := createTestRoom(t, g, host, 1)

		p1 := testClient("p1")
		joinTestRoom(t, g, p1, code, "Alice")
		drain(host)

		g.dispatch(p1, clientMessage{Type: "start-quiz", RoomCode: code})

		assert.Empty(t, drain(p1), "non-host start is a silent no-op")
		assert.Equal(t, stateWaiting, g.reg.getLocked(code).state)
	})

	t.Run("broadcasts the first question", func(t *testing.T) {
		g := testGateway()
		host := testClient("host")
		code := createTestRoom(t, g, host, 2)

		p1 := testClient("p1")
		joinTestRoom(t, g, p1, code, "Alice")
		drain(host)

		g.dispatch(host, clientMessage{Type: "start-quiz", RoomCode: code})

		for _, c := range []*Client{host, p1} {
			frames := drain(c)
			require.Len(t, frames, 1)
			question, ok := frames[0].(questionMessage)
			require.True(t, ok)
			assert.Equal(t, "quiz-started", question.Type)
			assert.Equal(t, 1, question.QuestionNumber)
			assert.Equal(t, 2, question.TotalQuestions)
			assert.Equal(t, 30, question.TimeLimit)
			assert.Len(t, question.Options, 4)
		}
	})
}

func TestGatewayFullQuizFlow(t *testing.T) {
	g := testGateway()
	host := testClient("host")
	code := createTestRoom(t, g, host, 2)

	alice := testClient("alice")
	bob := testClient("bob")
	joinTestRoom(t, g, alice, code, "Alice")
	joinTestRoom(t, g, bob, code, "Bob")
	drain(host)
	drain(alice)
	drain(bob)

	g.dispatch(host, clientMessage{Type: "start-quiz", RoomCode: code})
	drain(host)
	drain(alice)
	drain(bob)

	// First question's correct index is 0. Alice answers instantly and
	// correctly, Bob slowly and wrong.
	g.dispatch(alice, clientMessage{Type: "submit-answer", RoomCode: code, Answer: intPtr(0), TimeSpent: 0})

	frames := drain(alice)
	require.Len(t, frames, 2)
	result, ok := frames[0].(answerResultMessage)
	require.True(t, ok)
	assert.True(t, result.IsCorrect)
	assert.Equal(t, 160, result.Score)
	assert.Equal(t, 0, result.CorrectAnswer)
	assert.Equal(t, 160, result.CurrentScore)

	drain(bob) // leaderboard frame from Alice's submission

	g.dispatch(bob, clientMessage{Type: "submit-answer", RoomCode: code, Answer: intPtr(3), TimeSpent: 20})

	frames = drain(bob)
	require.Len(t, frames, 2)
	result, ok = frames[0].(answerResultMessage)
	require.True(t, ok)
	assert.False(t, result.IsCorrect)
	assert.Equal(t, 0, result.Score)
	assert.Equal(t, 0, result.CorrectAnswer, "correct index revealed regardless of correctness")

	board, ok := frames[1].(leaderboardMessage)
	require.True(t, ok)
	require.Len(t, board.Leaderboard, 2)
	assert.Equal(t, standing{Name: "Alice", Score: 160}, board.Leaderboard[0])
	assert.Equal(t, standing{Name: "Bob", Score: 0}, board.Leaderboard[1])

	// Duplicate submission is rejected without scoring.
	g.dispatch(alice, clientMessage{Type: "submit-answer", RoomCode: code, Answer: intPtr(0), TimeSpent: 0})

	frames = drain(alice)
	require.NotEmpty(t, frames)
	failure, ok := frames[len(frames)-1].(simpleMessage)
	require.True(t, ok)
	assert.Equal(t, "answer-error", failure.Type)
	assert.Equal(t, 160, g.reg.getLocked(code).scores["alice"])

	// Host advances to the second question.
	g.dispatch(host, clientMessage{Type: "next-question", RoomCode: code})
	drain(host)
	drain(bob)

	frames = drain(alice)
	require.Len(t, frames, 1)
	question, ok := frames[0].(questionMessage)
	require.True(t, ok)
	assert.Equal(t, "next-question", question.Type)
	assert.Equal(t, 2, question.QuestionNumber)

	// Advancing past the final question finishes the quiz.
	g.dispatch(host, clientMessage{Type: "next-question", RoomCode: code})

	frames = drain(bob)
	require.Len(t, frames, 1)
	finished, ok := frames[0].(quizFinishedMessage)
	require.True(t, ok)
	require.Len(t, finished.FinalLeaderboard, 2)
	require.NotNil(t, finished.Winner)
	assert.Equal(t, standing{Name: "Alice", Score: 160}, *finished.Winner)
	assert.Equal(t, stateFinished, g.reg.getLocked(code).state)

	// A finished room cannot be advanced again.
	g.dispatch(host, clientMessage{Type: "next-question", RoomCode: code})
	assert.Empty(t, drain(bob))
}

func TestGatewayNextQuestionGuards(t *testing.T) {
	g := testGateway()
	host := testClient("host")
	code := createTestRoom(t, g, host, 2)

	p1 := testClient("p1")
	joinTestRoom(t, g, p1, code, "Alice")
	drain(host)

	// Advancing a room that never started is a no-op.
	g.dispatch(host, clientMessage{Type: "next-question", RoomCode: code})
	assert.Empty(t, drain(p1))
	assert.Equal(t, 0, g.reg.getLocked(code).cursor)

	g.dispatch(host, clientMessage{Type: "start-quiz", RoomCode: code})
	drain(host)
	drain(p1)

	// Non-host advance is a no-op.
	g.dispatch(p1, clientMessage{Type: "next-question", RoomCode: code})
	assert.Empty(t, drain(p1))
	assert.Equal(t, 0, g.reg.getLocked(code).cursor)
}

func TestGatewayHostDisconnectDeletesRoom(t *testing.T) {
	g := testGateway()
	host := testClient("host")
	code := createTestRoom(t, g, host, 1)

	alice := testClient("alice")
	bob := testClient("bob")
	joinTestRoom(t, g, alice, code, "Alice")
	joinTestRoom(t, g, bob, code, "Bob")

	g.disconnect(host)

	assert.Nil(t, g.reg.getLocked(code))

	// The remaining members must be shut down with the room, so their
	// write pumps exit instead of leaking.
	assert.True(t, sendClosed(alice), "orphaned player's send channel must be closed")
	assert.True(t, sendClosed(bob), "orphaned player's send channel must be closed")
	assert.Empty(t, g.reg.conns, "no connection may stay routed to a dead room")

	late := testClient("late")
	g.dispatch(late, clientMessage{Type: "join-room", RoomCode: code, PlayerName: "Dave"})

	frames := drain(late)
	require.Len(t, frames, 1)
	failure, ok := frames[0].(simpleMessage)
	require.True(t, ok)
	assert.Equal(t, errRoomNotFound.Error(), failure.Message)
}

func TestGatewayPlayerDisconnect(t *testing.T) {
	g := testGateway()
	host := testClient("host")
	code := createTestRoom(t, g, host, 1)

	alice := testClient("alice")
	bob := testClient("bob")
	carol := testClient("carol")
	joinTestRoom(t, g, alice, code, "Alice")
	joinTestRoom(t, g, bob, code, "Bob")
	joinTestRoom(t, g, carol, code, "Carol")
	drain(host)
	drain(alice)
	drain(bob)

	g.disconnect(bob)

	room := g.reg.getLocked(code)
	require.NotNil(t, room, "room survives a non-host departure")
	assert.Len(t, room.players, 2)
	assert.NotContains(t, room.scores, "bob")

	frames := drain(alice)
	require.Len(t, frames, 1)
	left, ok := frames[0].(playerLeftMessage)
	require.True(t, ok)
	assert.Equal(t, "bob", left.PlayerID)
	assert.Equal(t, 2, left.PlayerCount)

	// Still joinable while waiting.
	dave := testClient("dave")
	joinTestRoom(t, g, dave, code, "Dave")

	// Disconnect with no room association is a no-op.
	g.disconnect(testClient("stranger"))
}

func TestGatewayLastPlayerDisconnectDeletesRoom(t *testing.T) {
	g := testGateway()
	host := testClient("host")
	code := createTestRoom(t, g, host, 1)

	alice := testClient("alice")
	joinTestRoom(t, g, alice, code, "Alice")

	g.disconnect(alice)

	assert.Nil(t, g.reg.getLocked(code))
	assert.True(t, sendClosed(host), "host's send channel closes with the room")
	assert.Empty(t, g.reg.conns)
}

func TestGatewayReplyToEvictedClient(t *testing.T) {
	g := testGateway()
	host := testClient("host")
	code := createTestRoom(t, g, host, 1)

	alice := testClient("alice")
	joinTestRoom(t, g, alice, code, "Alice")
	drain(host)

	// Fill Alice's buffer so the next multicast evicts her.
	room := g.reg.getLocked(code)
	for i := 0; i < cap(alice.send); i++ {
		alice.send <- simpleMessage{Type: "filler"}
	}
	room.multicast(simpleMessage{Type: "overflow"})
	require.False(t, room.clients[alice], "full buffer evicts the member")
	assert.True(t, sendClosed(alice))

	// A later reply to the evicted client is a clean drop, not a send
	// on a closed channel.
	assert.NotPanics(t, func() {
		g.reply(alice, simpleMessage{Type: "late"})
	})
}

func TestGatewayAutoAdvance(t *testing.T) {
	g := testGateway()
	g.cfg.autoAdvance = true

	host := testClient("host")
	code := createTestRoom(t, g, host, 2)

	alice := testClient("alice")
	joinTestRoom(t, g, alice, code, "Alice")
	drain(host)

	g.dispatch(host, clientMessage{Type: "start-quiz", RoomCode: code})
	drain(host)
	drain(alice)

	room := g.reg.getLocked(code)
	require.NotNil(t, room.timer, "auto-advance arms a timer per question")

	// A stale fire for an already-passed question is a no-op.
	g.dispatch(host, clientMessage{Type: "next-question", RoomCode: code})
	drain(host)
	drain(alice)
	require.Equal(t, 1, room.cursor)

	g.autoAdvance(code, 0)
	assert.Equal(t, 1, room.cursor)
	assert.Empty(t, drain(alice))

	// A current fire advances, here finishing the quiz.
	g.autoAdvance(code, 1)
	assert.Equal(t, stateFinished, room.state)

	frames := drain(alice)
	require.Len(t, frames, 1)
	_, ok := frames[0].(quizFinishedMessage)
	assert.True(t, ok)

	// A fire for a deleted room is a no-op.
	g.disconnect(host)
	g.autoAdvance(code, 1)
}
