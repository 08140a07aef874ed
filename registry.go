package main

import (
	"crypto/rand"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"
)

var (
	errInvalidRoomCode  = errors.New("Room code must be 4-6 characters (letters and numbers only)")
	errRoomCodeTaken    = errors.New("This room code is already taken. Please choose a different one.")
	errRoomNotFound     = errors.New("Room not found")
	errGameInProgress   = errors.New("Game already in progress")
	errNoValidQuestions = errors.New("At least one valid question is required")
)

var roomCodeFormat = regexp.MustCompile(`^[A-Z0-9]{4,6}$`)

const optionsPerQuestion = 4

// Registry holds every live room keyed by room code, plus the
// connection → room association used to route disconnects.
//
// A single mutex serializes every event handler's read-modify-write,
// standing in for the run-to-completion guarantee of an event loop.
// Rooms are independent and handlers are short, so contention is not
// a concern at this scale.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
	conns map[string]string // connection id → room code
}

func newRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		conns: make(map[string]string),
	}
}

// validQuestions filters the submitted set down to syntactically valid
// entries: non-empty text, exactly four non-empty options, correct
// index in range.
func validQuestions(payloads []questionPayload) []Question {
	questions := make([]Question, 0, len(payloads))

	for _, p := range payloads {
		if p.Question == "" || len(p.Options) != optionsPerQuestion {
			continue
		}
		if p.CorrectAnswer < 0 || p.CorrectAnswer >= optionsPerQuestion {
			continue
		}

		empty := false
		for _, option := range p.Options {
			if option == "" {
				empty = true
				break
			}
		}
		if empty {
			continue
		}

		questions = append(questions, Question{
			Text:         p.Question,
			Options:      p.Options,
			CorrectIndex: p.CorrectAnswer,
		})
	}

	return questions
}

// createLocked creates a room under the given (or a generated) code.
// Caller must hold reg.mu.
func (reg *Registry) createLocked(desiredCode, hostID, hostName string, payloads []questionPayload, timeLimit int) (*Room, error) {
	questions := validQuestions(payloads)
	if len(questions) == 0 {
		return nil, errNoValidQuestions
	}

	var code string
	if desiredCode != "" {
		code = strings.ToUpper(desiredCode)
		if !roomCodeFormat.MatchString(code) {
			return nil, errInvalidRoomCode
		}
		if _, exists := reg.rooms[code]; exists {
			return nil, errRoomCodeTaken
		}
	} else {
		code = reg.newRoomCodeLocked()
	}

	if hostName == "" {
		hostName = "Host"
	}

	room := newRoom(code, hostID, hostName, questions, timeLimit)
	reg.rooms[code] = room

	return room, nil
}

// getLocked looks up a room by code. Caller must hold reg.mu.
func (reg *Registry) getLocked(code string) *Room {
	return reg.rooms[code]
}

// deleteLocked terminates a room, cancelling any pending timer so a
// stale fire cannot revive its state. Caller must hold reg.mu.
func (reg *Registry) deleteLocked(code string) {
	room, ok := reg.rooms[code]
	if !ok {
		return
	}

	room.stopTimer()
	delete(reg.rooms, code)
}

// closeLocked terminates a room and shuts down every client still
// attached to it, so no write pump is left running for a dead room.
// Caller must hold reg.mu.
func (reg *Registry) closeLocked(code string) {
	room, ok := reg.rooms[code]
	if !ok {
		return
	}

	for client := range room.clients {
		delete(room.clients, client)
		delete(reg.conns, client.id)
		client.shutdown()
	}

	reg.deleteLocked(code)
}

// newRoomCodeLocked generates a crypto-random 6-character room code and
// retries on collision with existing rooms. Caller must hold reg.mu.
func (reg *Registry) newRoomCodeLocked() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	for {
		buf := make([]byte, 6)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 6)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		code := string(out)

		if _, exists := reg.rooms[code]; !exists {
			return code
		}
	}
}

// reaperLoop periodically removes rooms that have been idle longer than
// idleTimeout, disconnecting any clients still attached to them.
func (reg *Registry) reaperLoop(cfg *Config, idleTimeout time.Duration) {
	ticker := time.NewTicker(idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-idleTimeout)

		reg.mu.Lock()
		for code, room := range reg.rooms {
			if !room.lastActive.Before(cutoff) {
				continue
			}

			reg.closeLocked(code)
			logf(cfg, "QUIZ: Room %s reaped after idle timeout", code)
		}
		reg.mu.Unlock()
	}
}
