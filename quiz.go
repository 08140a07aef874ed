// Quizbox multiplayer quiz
//
// A host creates a room with a set of multiple-choice questions and
// shares its 4-6 character room code. Players join over a persistent
// websocket, the host steps through the questions, and every answer is
// scored server-side and reflected in a live leaderboard broadcast to
// the whole room.
//
// Features:
// - Single websocket endpoint at /ws; rooms are multiplexed by code
// - Custom or crypto-random room codes, with collision checks
// - Host-only quiz control (start, advance); non-host attempts are no-ops
// - Correct answers score a fixed base plus a time bonus
// - One answer per player per question
// - Optional per-question auto-advance timer, guarded against stale fires
// - Rooms die with their host, their last player, or (optionally) idleness
// - In-browser QR button to share a room's join link, backed by go-qrcode

package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

type Client struct {
	conn *websocket.Conn
	send chan any
	id   string

	// gone marks the send channel closed. Guarded by the registry
	// mutex, like the rest of the room state.
	gone bool
}

// shutdown closes the client's send channel so its write pump exits
// and closes the connection behind it. Idempotent; caller must hold
// the registry mutex.
func (c *Client) shutdown() {
	if c.gone {
		return
	}
	c.gone = true
	close(c.send)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// newConnID generates the opaque per-connection identifier assigned at
// connect time.
func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}
	return hex.EncodeToString(buf)
}

// Gateway routes inbound connection events to the registry and the
// relevant room, and publishes the results back out as unicast or
// room-wide multicast frames.
type Gateway struct {
	cfg *Config
	reg *Registry
}

func newGateway(cfg *Config) *Gateway {
	g := &Gateway{
		cfg: cfg,
		reg: newRegistry(),
	}
	if cfg.sessionTimeout > 0 {
		go g.reg.reaperLoop(cfg, cfg.sessionTimeout)
	}
	return g
}

// reply queues a frame for a client that may not belong to a room yet.
// Best effort; a full buffer drops the frame rather than blocking, and
// a client already shut down is skipped entirely.
func (g *Gateway) reply(c *Client, msg any) {
	if c.gone {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

// multicast queues a frame for every member of the room. A member with
// a full send buffer is evicted rather than allowed to block the room.
func (r *Room) multicast(msg any) {
	for client := range r.clients {
		select {
		case client.send <- msg:
		default:
			delete(r.clients, client)
			client.shutdown()
		}
	}
}

// unicast queues a frame for a single room member, skipping clients
// already evicted earlier in the same handler.
func (r *Room) unicast(c *Client, msg any) {
	if !r.clients[c] {
		return
	}

	select {
	case c.send <- msg:
	default:
		delete(r.clients, c)
		c.shutdown()
	}
}

// dispatch routes one inbound event to its handler. Faults inside a
// handler are recovered here and logged; the offending frame is dropped
// and the process keeps serving.
func (g *Gateway) dispatch(c *Client, msg clientMessage) {
	defer func() {
		if r := recover(); r != nil {
			logf(g.cfg, "QUIZ: Recovered from panic handling %q for %s: %v", msg.Type, c.id, r)
		}
	}()

	switch msg.Type {
	case "create-room":
		g.createRoom(c, msg)
	case "join-room":
		g.joinRoom(c, msg)
	case "start-quiz":
		g.startQuiz(c, msg)
	case "submit-answer":
		g.submitAnswer(c, msg)
	case "next-question":
		g.nextQuestion(c, msg)
	default:
		// ignore unknown types
	}
}

// createRoom handles "create-room": the creator's connection gains host
// authority and joins the room's broadcast group.
func (g *Gateway) createRoom(c *Client, msg clientMessage) {
	g.reg.mu.Lock()
	defer g.reg.mu.Unlock()

	room, err := g.reg.createLocked(msg.CustomRoomCode, c.id, msg.HostName, msg.Questions, int(g.cfg.questionTimer.Seconds()))
	if err != nil {
		g.reply(c, simpleMessage{Type: "join-error", Message: err.Error()})
		return
	}

	room.clients[c] = true
	g.reg.conns[c.id] = room.code

	g.reply(c, roomCreatedMessage{
		Type:          "room-created",
		RoomCode:      room.code,
		QuestionCount: len(room.questions),
		IsHost:        true,
	})

	custom := ""
	if msg.CustomRoomCode != "" {
		custom = " (custom code)"
	}
	logf(g.cfg, "QUIZ: Room %s created by %q%s", room.code, room.hostName, custom)
}

// joinRoom handles "join-room". Join failures go back to the joiner
// only; a successful join is announced to the whole room.
func (g *Gateway) joinRoom(c *Client, msg clientMessage) {
	g.reg.mu.Lock()
	defer g.reg.mu.Unlock()

	room := g.reg.getLocked(msg.RoomCode)
	if room == nil {
		g.reply(c, simpleMessage{Type: "join-error", Message: errRoomNotFound.Error()})
		return
	}

	if room.state != stateWaiting {
		g.reply(c, simpleMessage{Type: "join-error", Message: errGameInProgress.Error()})
		return
	}

	player := room.addPlayer(c, msg.PlayerName)
	g.reg.conns[c.id] = room.code

	room.multicast(playerJoinedMessage{
		Type: "player-joined",
		Player: playerView{
			ID:        player.ID,
			Name:      player.Name,
			Connected: player.Connected,
			JoinedAt:  player.JoinedAt,
		},
		PlayerCount: len(room.players),
		Players:     room.playerViews(),
	})

	room.unicast(c, roomJoinedMessage{
		Type:     "room-joined",
		RoomCode: room.code,
		IsHost:   false,
		Players:  room.playerViews(),
		HostName: room.hostName,
	})

	logf(g.cfg, "QUIZ: %q joined room %s", player.Name, room.code)
}

// startQuiz handles "start-quiz". Host only; anything else is an
// intentional silent no-op, as is starting with an empty roster.
func (g *Gateway) startQuiz(c *Client, msg clientMessage) {
	g.reg.mu.Lock()
	defer g.reg.mu.Unlock()

	room := g.reg.getLocked(msg.RoomCode)
	if room == nil || room.hostID != c.id {
		return
	}

	if !room.start() {
		return
	}

	if frame, ok := room.questionMessageFor("quiz-started"); ok {
		room.multicast(frame)
	}
	g.armTimerLocked(room)

	logf(g.cfg, "QUIZ: Quiz started in room %s", room.code)
}

// submitAnswer handles "submit-answer". Submissions outside an active
// quiz are dropped; duplicates for the current question are rejected
// with an explicit error frame.
func (g *Gateway) submitAnswer(c *Client, msg clientMessage) {
	g.reg.mu.Lock()
	defer g.reg.mu.Unlock()

	room := g.reg.getLocked(msg.RoomCode)
	if room == nil {
		return
	}

	outcome, err := room.submit(c.id, msg.Answer, msg.TimeSpent)
	if errors.Is(err, errAlreadyAnswered) {
		room.unicast(c, simpleMessage{Type: "answer-error", Message: err.Error()})
		return
	}
	if err != nil {
		return
	}

	room.unicast(c, answerResultMessage{
		Type:          "answer-result",
		IsCorrect:     outcome.correct,
		Score:         outcome.gained,
		CorrectAnswer: outcome.correctIndex,
		CurrentScore:  outcome.total,
	})

	room.multicast(leaderboardMessage{
		Type:        "leaderboard-update",
		Leaderboard: room.leaderboard(),
	})
}

// nextQuestion handles "next-question". Host only, active quizzes only.
func (g *Gateway) nextQuestion(c *Client, msg clientMessage) {
	g.reg.mu.Lock()
	defer g.reg.mu.Unlock()

	room := g.reg.getLocked(msg.RoomCode)
	if room == nil || room.hostID != c.id || room.state != stateActive {
		return
	}

	g.advanceLocked(room)
}

// advanceLocked moves a room to its next question or, past the final
// one, to the finished state with a final leaderboard and winner.
// Caller must hold reg.mu.
func (g *Gateway) advanceLocked(room *Room) {
	room.stopTimer()

	if room.advance() {
		board := room.leaderboard()
		finished := quizFinishedMessage{
			Type:             "quiz-finished",
			FinalLeaderboard: board,
		}
		if len(board) > 0 {
			winner := board[0]
			finished.Winner = &winner
		}
		room.multicast(finished)

		logf(g.cfg, "QUIZ: Quiz finished in room %s", room.code)
		return
	}

	if frame, ok := room.questionMessageFor("next-question"); ok {
		room.multicast(frame)
	}
	g.armTimerLocked(room)
}

// armTimerLocked arms the per-question auto-advance timer, capturing
// the cursor it was armed for so a stale fire is a no-op. Caller must
// hold reg.mu.
func (g *Gateway) armTimerLocked(room *Room) {
	if !g.cfg.autoAdvance {
		return
	}

	code := room.code
	armed := room.cursor
	room.timer = time.AfterFunc(g.cfg.questionTimer, func() {
		g.autoAdvance(code, armed)
	})
}

// autoAdvance is the timer callback. The room may have been deleted,
// finished, or manually advanced since the timer was armed; only a room
// still active on the same question is advanced.
func (g *Gateway) autoAdvance(code string, armed int) {
	g.reg.mu.Lock()
	defer g.reg.mu.Unlock()

	room := g.reg.getLocked(code)
	if room == nil || room.state != stateActive || room.cursor != armed {
		return
	}

	g.advanceLocked(room)
}

// disconnect tears down a connection's room membership. Idempotent; a
// connection with no associated room is a no-op. A room loses its host
// or its last player, the room goes with it.
func (g *Gateway) disconnect(c *Client) {
	g.reg.mu.Lock()
	defer g.reg.mu.Unlock()

	code, ok := g.reg.conns[c.id]
	delete(g.reg.conns, c.id)
	if !ok {
		return
	}

	room := g.reg.getLocked(code)
	if room == nil {
		return
	}

	if room.clients[c] {
		delete(room.clients, c)
		c.shutdown()
	}

	if c.id == room.hostID {
		g.reg.closeLocked(code)
		logf(g.cfg, "QUIZ: Room %s cleaned up after host disconnect", code)
		return
	}

	if room.removePlayer(c.id) {
		room.multicast(playerLeftMessage{
			Type:        "player-left",
			PlayerID:    c.id,
			PlayerCount: len(room.players),
			Players:     room.playerViews(),
		})
	}

	if len(room.players) == 0 {
		g.reg.closeLocked(code)
		logf(g.cfg, "QUIZ: Room %s cleaned up", code)
	}
}

// Websocket handler: one connection per client, rooms multiplexed by
// the room codes inside each frame.
func serveQuizWS(cfg *Config, g *Gateway) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn: conn,
			send: make(chan any, 8),
			id:   newConnID(),
		}

		logf(cfg, "QUIZ: Player connected: %s", client.id)

		go client.writePump()
		client.readPump(g)
	}
}

func (c *Client) readPump(g *Gateway) {
	defer func() {
		g.disconnect(c)
		_ = c.conn.Close()
		logf(g.cfg, "QUIZ: Player disconnected: %s", c.id)
	}()

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		g.dispatch(c, msg)
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for a room's join URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	roomCode := ps.ByName("roomcode")
	if roomCode == "" {
		http.Error(w, "missing room code", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:roomcode/qr; strip trailing "/qr" to get the join URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// registerQuizGame sets up routes so that:
//   - /ws                    → shared websocket endpoint for all rooms
//   - $path/:roomcode/qr     → PNG QR code linking to that room
func registerQuizGame(cfg *Config, path string, mux *httprouter.Router) *Gateway {
	g := newGateway(cfg)

	mux.GET(cfg.prefix+"/ws", serveQuizWS(cfg, g))

	mux.GET(cfg.prefix+path+"/:roomcode/qr", qrHandler)

	return g
}
