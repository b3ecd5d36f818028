// models/proposal.go
package models

import "time"

// MoveProposal is a candidate next move for a game, put to a weighted ballot.
// Proposals are numbered sequentially within their game. Lifecycle:
// open -> executed (highest vote total once the window elapsed) or
// open -> discarded (lost the round).
type MoveProposal struct {
	ID           uint64    `json:"-" gorm:"primaryKey;autoIncrement"`
	GameID       uint64    `json:"game_id" gorm:"uniqueIndex:idx_proposal_game_seq,priority:1;not null"`
	Seq          uint64    `json:"seq" gorm:"uniqueIndex:idx_proposal_game_seq,priority:2;not null"`
	Proposer     string    `json:"proposer" gorm:"index;not null"`
	Move         string    `json:"move" gorm:"not null"`
	VotingEndsAt time.Time `json:"voting_ends_at" gorm:"index;not null"`
	TotalVotes   uint64    `json:"total_votes" gorm:"not null;default:0"`
	Executed     bool      `json:"executed" gorm:"not null;default:false"`
	Discarded    bool      `json:"discarded" gorm:"not null;default:false"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Resolved reports whether the proposal's round is over, one way or the other.
func (p *MoveProposal) Resolved() bool {
	return p.Executed || p.Discarded
}

// ProposalVote records one voter's committed weight on one proposal. The
// unique index is what enforces one vote per voter per proposal: a second
// vote is rejected, not replaced, so voters commit their full weight up front.
type ProposalVote struct {
	ID          uint64    `json:"-" gorm:"primaryKey;autoIncrement"`
	GameID      uint64    `json:"game_id" gorm:"uniqueIndex:idx_vote_game_seq_voter,priority:1;not null"`
	ProposalSeq uint64    `json:"proposal_seq" gorm:"uniqueIndex:idx_vote_game_seq_voter,priority:2;not null"`
	Voter       string    `json:"voter" gorm:"uniqueIndex:idx_vote_game_seq_voter,priority:3;not null"`
	Weight      uint64    `json:"weight" gorm:"not null"`
	CreatedAt   time.Time `json:"created_at"`
}
