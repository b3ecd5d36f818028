// services/ledger_service.go
package services

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"stake-match-system/models"
	"stake-match-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LedgerService keeps the pooled share accounting over the single external
// reserve shared by all games. Deposits are converted to shares at the
// current share price, withdrawals back to value, so interest accrued by the
// reserve is distributed proportionally without any per-game interest math.
//
// All mutating entry points serialize on the service mutex and run inside one
// GORM transaction. Accounting rows are updated before the external reserve
// and treasury are touched; a failed transfer rolls the whole call back.
type LedgerService struct {
	DB       *gorm.DB
	Reserve  ReserveVault
	Payments PaymentGateway

	mu sync.Mutex
}

func NewLedgerService(db *gorm.DB, reserve ReserveVault, payments PaymentGateway) *LedgerService {
	return &LedgerService{DB: db, Reserve: reserve, Payments: payments}
}

// syncState loads the singleton accounting row and refreshes TotalValueLocked
// from the reserve's reported balance. The share price is never stored; it
// falls out of TotalValueLocked / TotalShares at use time, which is what lets
// externally accruing interest reach every depositor.
func (s *LedgerService) syncState(tx *gorm.DB) (*models.LedgerState, error) {
	var state models.LedgerState
	if err := tx.Where(models.LedgerState{ID: 1}).FirstOrCreate(&state).Error; err != nil {
		return nil, err
	}

	balance, err := s.Reserve.Balance()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrTransferFailed, err)
	}
	state.TotalValueLocked = balance
	state.LastSyncAt = time.Now()
	if err := tx.Save(&state).Error; err != nil {
		return nil, err
	}
	return &state, nil
}

func valueForShares(state *models.LedgerState, shares uint64) uint64 {
	if state.TotalShares == 0 {
		return 0
	}
	return shares * state.TotalValueLocked / state.TotalShares
}

// Deposit pools a stake payment for a game and grants shares at the current
// share price. Returns the shares granted.
func (s *LedgerService) Deposit(gameID uint64, payer string, amount uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var shares uint64
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		shares, err = s.depositTx(tx, gameID, payer, amount)
		return err
	})
	return shares, err
}

// DepositTx is Deposit composed into a caller-owned transaction, used by the
// orchestrator so game creation and the stake deposit commit together.
func (s *LedgerService) DepositTx(tx *gorm.DB, gameID uint64, payer string, amount uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depositTx(tx, gameID, payer, amount)
}

func (s *LedgerService) depositTx(tx *gorm.DB, gameID uint64, payer string, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, models.ErrZeroAmount
	}

	state, err := s.syncState(tx)
	if err != nil {
		return 0, err
	}

	// First depositor takes shares 1:1. Everyone after that buys in at the
	// implied price, rounded down so rounding always favors the pool — the
	// guard against first-depositor share price inflation.
	var shares uint64
	if state.TotalShares == 0 {
		shares = amount
	} else {
		if state.TotalValueLocked == 0 {
			return 0, models.ErrVaultEmpty
		}
		shares = amount * state.TotalShares / state.TotalValueLocked
	}

	var account models.LedgerAccount
	if err := tx.Where(models.LedgerAccount{GameID: gameID}).FirstOrCreate(&account).Error; err != nil {
		return 0, err
	}

	account.Shares += shares
	account.Principal += amount
	state.TotalShares += shares
	state.TotalValueLocked += amount

	if err := tx.Save(&account).Error; err != nil {
		return 0, err
	}
	if err := tx.Save(state).Error; err != nil {
		return 0, err
	}

	ref := uuid.NewString()
	if err := s.Payments.Pull(payer, amount, ref); err != nil {
		return 0, fmt.Errorf("%w: %v", models.ErrTransferFailed, err)
	}
	if err := s.Reserve.Supply(amount); err != nil {
		// The stake was already drawn; send it back so the aborted call has
		// no external footprint either.
		if pushErr := s.Payments.Push(payer, amount, ref); pushErr != nil {
			log.Printf("❌ [LEDGER] failed to refund %s to %s after aborted deposit: %v",
				utils.FormatAmount(amount), payer, pushErr)
		}
		return 0, fmt.Errorf("%w: %v", models.ErrTransferFailed, err)
	}

	log.Printf("[LEDGER] game %d deposited %s, granted %d shares (ref %s)",
		gameID, utils.FormatAmount(amount), shares, ref)
	return shares, nil
}

// debit burns the shares backing `amount` of a game's value. When
// cutPrincipal is set the deposit watermark shrinks proportionally to the
// shares burned; harvesting leaves it alone so only true yield is skimmed.
func (s *LedgerService) debit(tx *gorm.DB, gameID uint64, amount uint64, cutPrincipal bool) error {
	state, err := s.syncState(tx)
	if err != nil {
		return err
	}

	var account models.LedgerAccount
	if err := tx.First(&account, "game_id = ?", gameID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ErrInsufficientBalance
		}
		return err
	}

	value := valueForShares(state, account.Shares)
	if amount > value {
		return models.ErrInsufficientBalance
	}
	// Unreachable given the balance check, but division by zero must stay
	// guarded rather than assumed away.
	if state.TotalValueLocked == 0 {
		return models.ErrVaultEmpty
	}

	burn := amount * state.TotalShares / state.TotalValueLocked
	if burn > account.Shares {
		burn = account.Shares
	}

	if cutPrincipal {
		cut := account.Principal * burn / account.Shares
		if cut > account.Principal {
			cut = account.Principal
		}
		account.Principal -= cut
	}

	account.Shares -= burn
	state.TotalShares -= burn
	state.TotalValueLocked -= amount

	if err := tx.Save(&account).Error; err != nil {
		return err
	}
	return tx.Save(state).Error
}

// Withdraw releases part of a game's pooled value to a player. Fails when the
// requested amount exceeds the game's current redeemable value.
func (s *LedgerService) Withdraw(gameID uint64, to string, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.DB.Transaction(func(tx *gorm.DB) error {
		if amount == 0 {
			return models.ErrZeroAmount
		}
		if err := s.debit(tx, gameID, amount, true); err != nil {
			return err
		}
		return s.payOut(to, amount)
	})
}

// Harvest skims the yield a game's pool has accrued over its deposit
// watermark and pays it out, leaving the principal claim untouched. Returns
// the amount paid, which is zero when nothing has accrued.
func (s *LedgerService) Harvest(gameID uint64, to string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var yield uint64
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		state, err := s.syncState(tx)
		if err != nil {
			return err
		}
		var account models.LedgerAccount
		if err := tx.First(&account, "game_id = ?", gameID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.ErrGameNotFound
			}
			return err
		}

		value := valueForShares(state, account.Shares)
		if value <= account.Principal {
			yield = 0
			return nil
		}
		yield = value - account.Principal

		if err := s.debit(tx, gameID, yield, false); err != nil {
			return err
		}
		return s.payOut(to, yield)
	})
	if err != nil {
		return 0, err
	}
	if yield > 0 {
		log.Printf("[LEDGER] game %d harvested %s of yield to %s", gameID, utils.FormatAmount(yield), to)
	}
	return yield, nil
}

// ReleaseAllTx pays a game's full pooled value (principal plus accrued yield)
// to the beneficiary and closes the account. Called exactly once per game, by
// settlement or cancellation, inside the orchestrator's transaction.
func (s *LedgerService) ReleaseAllTx(tx *gorm.DB, gameID uint64, to string) (principal, yield, total uint64, ref string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.syncState(tx)
	if err != nil {
		return 0, 0, 0, "", err
	}

	var account models.LedgerAccount
	if err = tx.First(&account, "game_id = ?", gameID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Nothing pooled for this game; nothing to move.
			return 0, 0, 0, "", nil
		}
		return 0, 0, 0, "", err
	}

	total = valueForShares(state, account.Shares)
	principal = account.Principal
	if principal > total {
		principal = total
	}
	yield = total - principal

	state.TotalShares -= account.Shares
	if total > state.TotalValueLocked {
		state.TotalValueLocked = 0
	} else {
		state.TotalValueLocked -= total
	}

	if err = tx.Delete(&account).Error; err != nil {
		return 0, 0, 0, "", err
	}
	if err = tx.Save(state).Error; err != nil {
		return 0, 0, 0, "", err
	}

	ref = uuid.NewString()
	if total > 0 {
		if err = s.payOutRef(to, total, ref); err != nil {
			return 0, 0, 0, "", err
		}
	}

	log.Printf("[LEDGER] game %d released %s (%s principal + %s yield) to %s",
		gameID, utils.FormatAmount(total), utils.FormatAmount(principal), utils.FormatAmount(yield), to)
	return principal, yield, total, ref, nil
}

func (s *LedgerService) payOut(to string, amount uint64) error {
	return s.payOutRef(to, amount, uuid.NewString())
}

func (s *LedgerService) payOutRef(to string, amount uint64, ref string) error {
	if _, err := s.Reserve.Withdraw(amount); err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransferFailed, err)
	}
	if err := s.Payments.Push(to, amount, ref); err != nil {
		// Put the liquidity back so the reserve matches the rolled-back books.
		if supplyErr := s.Reserve.Supply(amount); supplyErr != nil {
			log.Printf("❌ [LEDGER] failed to re-supply reserve after aborted payout of %s: %v",
				utils.FormatAmount(amount), supplyErr)
		}
		return fmt.Errorf("%w: %v", models.ErrTransferFailed, err)
	}
	return nil
}

// --- Reads ---

// readState computes against the live reserve balance without persisting, so
// queries see accrued interest immediately but stay side-effect free.
func (s *LedgerService) readState() (*models.LedgerState, error) {
	var state models.LedgerState
	if err := s.DB.Where(models.LedgerState{ID: 1}).FirstOrCreate(&state).Error; err != nil {
		return nil, err
	}
	if balance, err := s.Reserve.Balance(); err == nil {
		state.TotalValueLocked = balance
	}
	return &state, nil
}

// ValueOf returns a game's current redeemable value: shares priced at the
// live reserve balance.
func (s *LedgerService) ValueOf(gameID uint64) (uint64, error) {
	state, err := s.readState()
	if err != nil {
		return 0, err
	}
	var account models.LedgerAccount
	if err := s.DB.First(&account, "game_id = ?", gameID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return valueForShares(state, account.Shares), nil
}

// ExpectedYield returns what Harvest would currently pay for a game.
func (s *LedgerService) ExpectedYield(gameID uint64) (uint64, error) {
	state, err := s.readState()
	if err != nil {
		return 0, err
	}
	var account models.LedgerAccount
	if err := s.DB.First(&account, "game_id = ?", gameID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	value := valueForShares(state, account.Shares)
	if value <= account.Principal {
		return 0, nil
	}
	return value - account.Principal, nil
}

// TotalValueLocked reports the reserve's current total redeemable value.
func (s *LedgerService) TotalValueLocked() (uint64, error) {
	state, err := s.readState()
	if err != nil {
		return 0, err
	}
	return state.TotalValueLocked, nil
}

// StakeholderValue is a player's proportional claim on a game's pooled value,
// the weight source for move ballots. Both sides of an active game staked the
// same amount, so each holds half the claim; before a join the creator holds
// all of it.
func (s *LedgerService) StakeholderValue(game *models.Game, player string) (uint64, error) {
	if !game.IsPlayer(player) {
		return 0, nil
	}
	value, err := s.ValueOf(game.ID)
	if err != nil {
		return 0, err
	}
	switch game.State {
	case models.GameStateActive, models.GameStateCompleted:
		return value / 2, nil
	case models.GameStatePending:
		if player == game.PlayerOne {
			return value, nil
		}
	}
	return 0, nil
}

// SyncReserve refreshes the persisted TVL mirror from the reserve. Called by
// the polling worker between requests so dashboards and logs track accrual.
func (s *LedgerService) SyncReserve() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tvl uint64
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		state, err := s.syncState(tx)
		if err != nil {
			return err
		}
		tvl = state.TotalValueLocked
		return nil
	})
	return tvl, err
}

// --- HTTP handlers ---

// GetTotalValueLocked returns the pooled reserve's total balance.
func (s *LedgerService) GetTotalValueLocked(c *fiber.Ctx) error {
	tvl, err := s.TotalValueLocked()
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "failed to read reserve balance"})
	}
	return c.JSON(fiber.Map{"total_value_locked": utils.FormatAmount(tvl)})
}

// GetGameBalance returns a game's pooled value, principal and accrued yield.
func (s *LedgerService) GetGameBalance(c *fiber.Ctx) error {
	gameID, err := utils.ParseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid game id"})
	}

	var game models.Game
	if err := s.DB.First(&game, "id = ?", gameID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "game not found"})
	}

	value, err := s.ValueOf(gameID)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "failed to read reserve balance"})
	}
	yield, err := s.ExpectedYield(gameID)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "failed to read reserve balance"})
	}

	return c.JSON(fiber.Map{
		"game_id":        gameID,
		"balance":        utils.FormatAmount(value),
		"expected_yield": utils.FormatAmount(yield),
	})
}

// HarvestYield pays a game's accrued yield out to the calling player.
func (s *LedgerService) HarvestYield(c *fiber.Ctx) error {
	caller, _ := c.Locals("user_id").(string)
	gameID, err := utils.ParseID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid game id"})
	}

	var game models.Game
	if err := s.DB.First(&game, "id = ?", gameID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "game not found"})
	}
	if !game.IsPlayer(caller) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": models.ErrNotPlayer.Error()})
	}

	yield, err := s.Harvest(gameID, caller)
	if err != nil {
		return respondDomainError(c, err)
	}
	return c.JSON(fiber.Map{"game_id": gameID, "harvested": utils.FormatAmount(yield)})
}
