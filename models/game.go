// models/game.go
package models

import (
	"time"
)

const (
	GameStatePending   = "pending"   // created, waiting for an opponent
	GameStateActive    = "active"    // both stakes pooled, turns running
	GameStateCompleted = "completed" // settled, pot released to winner
	GameStateCancelled = "cancelled" // creator backed out before a join
)

// Game is one head-to-head match. The row doubles as the state machine:
// transitions only ever move forward (pending -> active -> completed, or
// pending -> cancelled), and completed/cancelled rows are kept for audit.
type Game struct {
	ID   uint64 `json:"id" gorm:"primaryKey;autoIncrement"`
	Name string `json:"name" gorm:"not null"`
	Slug string `json:"slug" gorm:"index"`

	PlayerOne string  `json:"player_one" gorm:"index;not null"`  // creator
	PlayerTwo *string `json:"player_two,omitempty" gorm:"index"` // joiner, nil until joined

	// StakeAmount is what each side puts in, in milli-units. Fixed at
	// creation; the joiner must match it exactly.
	StakeAmount uint64 `json:"stake_amount" gorm:"not null"`
	TotalPooled uint64 `json:"total_pooled" gorm:"not null;default:0"`

	State       string  `json:"state" gorm:"index;not null;default:'pending'"`
	CurrentTurn string  `json:"current_turn"` // meaningful only while active
	Winner      *string `json:"winner,omitempty"`

	MoveCount    int       `json:"move_count" gorm:"default:0"`
	LastActionAt time.Time `json:"last_action_at" gorm:"not null"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Opponent returns the other player of the game, or "" when the game has no
// second player yet or the given id is not a player at all.
func (g *Game) Opponent(player string) string {
	if g.PlayerTwo == nil {
		return ""
	}
	switch player {
	case g.PlayerOne:
		return *g.PlayerTwo
	case *g.PlayerTwo:
		return g.PlayerOne
	}
	return ""
}

// IsPlayer reports whether the given id is one of the game's two sides.
func (g *Game) IsPlayer(player string) bool {
	if player == g.PlayerOne {
		return true
	}
	return g.PlayerTwo != nil && player == *g.PlayerTwo
}

// GameMove is the append-only move log of a game. Move content is opaque to
// this service; legality is the game client's business.
type GameMove struct {
	ID       uint64    `json:"-" gorm:"primaryKey;autoIncrement"`
	GameID   uint64    `json:"game_id" gorm:"uniqueIndex:idx_game_move_seq,priority:1;not null"`
	Seq      int       `json:"seq" gorm:"uniqueIndex:idx_game_move_seq,priority:2;not null"`
	Player   string    `json:"player" gorm:"not null"`
	Move     string    `json:"move" gorm:"not null"`
	PlayedAt time.Time `json:"played_at" gorm:"not null"`
}
