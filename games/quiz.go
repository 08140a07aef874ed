// Package games holds design notes for the games served by quizbox.
package games

// A host builds a quiz (multiple-choice questions, four options each) and creates a room
// The room gets a short code (custom or generated), shared by link, QR, or read aloud
// Players join with the code and a display name while the room is still waiting
// The host starts the quiz; everyone answers the same question at the same time
// Correct answers earn 100 points plus up to 60 for answering quickly
// After each question the host advances (or a timer does), until the last one
// The final leaderboard and winner are shown to the whole room

// Display formats:
// Host panel with roster, question controls, and live leaderboard
// Player view with the current question, four option buttons, and a countdown

// Implementation details:
// - One websocket per client; room code inside each message picks the room
// - Server assigns an opaque connection id at connect time
// - Host authority is bound to the creating connection; if it drops, the room ends
// - No persistence; rooms live and die in process memory
