// services/consensus_service.go
package services

import (
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"stake-match-system/models"
	"stake-match-system/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// ConsensusService runs the move ballots: stakeholders of a game propose the
// next move, vote with weight bounded by their ledger valuation, and once a
// proposal's window has elapsed the highest vote total wins the turn. Ties
// break to the lowest proposal number, so resolution is deterministic.
type ConsensusService struct {
	DB           *gorm.DB
	Ledger       *LedgerService
	Games        *GameService
	VotingPeriod time.Duration

	mu sync.Mutex
}

func NewConsensusService(db *gorm.DB, ledger *LedgerService, games *GameService) *ConsensusService {
	period := 10 * time.Minute
	if v := os.Getenv("VOTING_PERIOD"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("invalid VOTING_PERIOD: %v", err)
		}
		period = d
	}
	return &ConsensusService{DB: db, Ledger: ledger, Games: games, VotingPeriod: period}
}

func (s *ConsensusService) loadActiveGame(tx *gorm.DB, gameID uint64) (*models.Game, error) {
	var game models.Game
	if err := tx.First(&game, "id = ?", gameID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrGameNotFound
		}
		return nil, err
	}
	if game.State != models.GameStateActive {
		return nil, models.ErrNotActive
	}
	return &game, nil
}

// --- Core operations ---

// proposeMove opens a ballot for the next move of a game. Any stakeholder may
// propose; the window is fixed at the configured voting period.
func (s *ConsensusService) proposeMove(gameID uint64, proposer, move string) (*models.MoveProposal, error) {
	if s.Games.Config.Mode != MoveModeConsensus {
		return nil, models.ErrConsensusDisabled
	}

	var proposal models.MoveProposal
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		game, err := s.loadActiveGame(tx, gameID)
		if err != nil {
			return err
		}
		if !game.IsPlayer(proposer) {
			return models.ErrNotPlayer
		}

		var lastSeq uint64
		row := tx.Model(&models.MoveProposal{}).
			Where("game_id = ?", gameID).
			Select("COALESCE(MAX(seq), 0)").
			Row()
		if err := row.Scan(&lastSeq); err != nil {
			return err
		}

		proposal = models.MoveProposal{
			GameID:       gameID,
			Seq:          lastSeq + 1,
			Proposer:     proposer,
			Move:         move,
			VotingEndsAt: time.Now().Add(s.VotingPeriod),
		}
		return tx.Create(&proposal).Error
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[BALLOT] game %d proposal %d by %s, closes %s",
		gameID, proposal.Seq, proposer, proposal.VotingEndsAt.Format(time.RFC3339))
	return &proposal, nil
}

// vote commits a voter's weight to a proposal. One shot per voter per
// proposal: there is no changing or topping up a vote afterwards, so voters
// spend their full intended weight up front.
func (s *ConsensusService) vote(gameID, seq uint64, voter string, weight uint64) (*models.MoveProposal, error) {
	var proposal models.MoveProposal
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&proposal, "game_id = ? AND seq = ?", gameID, seq).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrProposalNotFound
			}
			return err
		}
		if proposal.Resolved() || !time.Now().Before(proposal.VotingEndsAt) {
			return models.ErrVotingClosed
		}
		if weight == 0 {
			return models.ErrZeroAmount
		}

		game, err := s.loadActiveGame(tx, gameID)
		if err != nil {
			return err
		}
		limit, err := s.Ledger.StakeholderValue(game, voter)
		if err != nil {
			return err
		}
		if weight > limit {
			return models.ErrInsufficientShares
		}

		var existing models.ProposalVote
		err = tx.First(&existing, "game_id = ? AND proposal_seq = ? AND voter = ?", gameID, seq, voter).Error
		if err == nil {
			return models.ErrAlreadyVoted
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		record := models.ProposalVote{
			GameID:      gameID,
			ProposalSeq: seq,
			Voter:       voter,
			Weight:      weight,
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}

		proposal.TotalVotes += weight
		return tx.Save(&proposal).Error
	})
	if err != nil {
		return nil, err
	}
	return &proposal, nil
}

// executeTopMove resolves an elapsed ballot round: the unresolved proposal
// with the highest vote total (lowest number on a tie) is executed against
// the game, everything else in the round is discarded.
func (s *ConsensusService) executeTopMove(gameID uint64) (*models.MoveProposal, *models.Game, error) {
	var winner models.MoveProposal
	var game *models.Game
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if _, err := s.loadActiveGame(tx, gameID); err != nil {
			return err
		}

		var open []models.MoveProposal
		if err := tx.Where("game_id = ? AND executed = ? AND discarded = ?", gameID, false, false).
			Order("total_votes DESC, seq ASC").
			Find(&open).Error; err != nil {
			return err
		}
		if len(open) == 0 {
			var resolved int64
			if err := tx.Model(&models.MoveProposal{}).
				Where("game_id = ?", gameID).Count(&resolved).Error; err != nil {
				return err
			}
			if resolved > 0 {
				return models.ErrMoveExecuted
			}
			return models.ErrProposalNotFound
		}

		now := time.Now()
		var due []models.MoveProposal
		for _, p := range open {
			if !now.Before(p.VotingEndsAt) {
				due = append(due, p)
			}
		}
		if len(due) == 0 {
			return models.ErrVotingStillOpen
		}

		winner = due[0]
		winner.Executed = true
		if err := tx.Save(&winner).Error; err != nil {
			return err
		}
		for _, p := range due[1:] {
			p.Discarded = true
			if err := tx.Save(&p).Error; err != nil {
				return err
			}
		}

		var err error
		game, err = s.Games.resolveMoveTx(tx, gameID, winner.Move)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	log.Printf("[BALLOT] game %d proposal %d executed with %d votes, turn to %s",
		gameID, winner.Seq, winner.TotalVotes, game.CurrentTurn)
	return &winner, game, nil
}

// ResolveDueBallots executes the top move of every game whose ballot window
// has elapsed. The scheduler drives this; it walks the same lazy path a
// caller-triggered resolution takes.
func (s *ConsensusService) ResolveDueBallots() {
	s.mu.Lock()
	defer s.mu.Unlock()

	var gameIDs []uint64
	err := s.DB.Model(&models.MoveProposal{}).
		Where("executed = ? AND discarded = ? AND voting_ends_at <= ?", false, false, time.Now()).
		Distinct("game_id").
		Pluck("game_id", &gameIDs).Error
	if err != nil {
		log.Printf("[BALLOT] scheduler query failed: %v", err)
		return
	}

	for _, id := range gameIDs {
		if _, _, err := s.executeTopMove(id); err != nil {
			// Games can finish between the query and the resolution; only
			// unexpected failures are worth noise.
			if !errors.Is(err, models.ErrNotActive) && !errors.Is(err, models.ErrVotingStillOpen) {
				log.Printf("[BALLOT] failed to resolve game %d: %v", id, err)
			}
		}
	}
}

// --- HTTP handlers ---

// ProposeMove opens a new ballot on a game.
func (s *ConsensusService) ProposeMove(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	caller, _ := c.Locals("user_id").(string)
	gameID, err := utils.ParseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid game id"})
	}
	var req struct {
		Move string `json:"move"`
	}
	if err := c.BodyParser(&req); err != nil || req.Move == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "move is required"})
	}

	proposal, err := s.proposeMove(gameID, caller, req.Move)
	if err != nil {
		return respondDomainError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(proposal)
}

// Vote commits the caller's weight to a proposal.
func (s *ConsensusService) Vote(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	caller, _ := c.Locals("user_id").(string)
	gameID, err := utils.ParseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid game id"})
	}
	seq, err := utils.ParseID(c.Params("seq"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid proposal number"})
	}
	var req struct {
		Weight string `json:"weight"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	weight, err := utils.ParseAmount(req.Weight)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	proposal, err := s.vote(gameID, seq, caller, weight)
	if err != nil {
		return respondDomainError(c, err)
	}
	return c.JSON(proposal)
}

// ExecuteTopMove resolves an elapsed ballot round on demand.
func (s *ConsensusService) ExecuteTopMove(c *fiber.Ctx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	gameID, err := utils.ParseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid game id"})
	}
	proposal, game, err := s.executeTopMove(gameID)
	if err != nil {
		return respondDomainError(c, err)
	}
	return c.JSON(fiber.Map{"executed": proposal, "game": game})
}

// GetProposal returns one proposal with its vote total.
func (s *ConsensusService) GetProposal(c *fiber.Ctx) error {
	gameID, err := utils.ParseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid game id"})
	}
	seq, err := utils.ParseID(c.Params("seq"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid proposal number"})
	}
	var proposal models.MoveProposal
	if err := s.DB.First(&proposal, "game_id = ? AND seq = ?", gameID, seq).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": models.ErrProposalNotFound.Error()})
	}
	return c.JSON(proposal)
}

// GetVoteWeight returns the weight a voter has committed to a proposal.
func (s *ConsensusService) GetVoteWeight(c *fiber.Ctx) error {
	gameID, err := utils.ParseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid game id"})
	}
	seq, err := utils.ParseID(c.Params("seq"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid proposal number"})
	}
	voter := c.Params("voter")

	var record models.ProposalVote
	err = s.DB.First(&record, "game_id = ? AND proposal_seq = ? AND voter = ?", gameID, seq, voter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(fiber.Map{"game_id": gameID, "proposal_seq": seq, "voter": voter, "weight": "0.000"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch vote"})
	}
	return c.JSON(fiber.Map{
		"game_id": gameID, "proposal_seq": seq, "voter": voter,
		"weight": utils.FormatAmount(record.Weight),
	})
}

// GetActiveProposals lists a game's unresolved proposals.
func (s *ConsensusService) GetActiveProposals(c *fiber.Ctx) error {
	gameID, err := utils.ParseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid game id"})
	}
	var proposals []models.MoveProposal
	if err := s.DB.Where("game_id = ? AND executed = ? AND discarded = ?", gameID, false, false).
		Order("seq").Find(&proposals).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch proposals"})
	}
	return c.JSON(proposals)
}
