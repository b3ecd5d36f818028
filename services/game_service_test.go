package services

import (
	"testing"
	"time"

	"stake-match-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateGameStartsPendingWithPooledStake(t *testing.T) {
	ts := newTestStack(t, MoveModeDirect)

	game, err := ts.games.createGame("alice", "Friday blitz", 1_000)
	require.NoError(t, err)

	assert.Equal(t, models.GameStatePending, game.State)
	assert.Equal(t, "alice", game.PlayerOne)
	assert.Nil(t, game.PlayerTwo)
	assert.Equal(t, uint64(1_000), game.TotalPooled)
	assert.Equal(t, "friday-blitz", game.Slug)

	value, err := ts.ledger.ValueOf(game.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), value)
}

func TestCreateGameEnforcesStakeBounds(t *testing.T) {
	ts := newTestStack(t, MoveModeDirect)

	_, err := ts.games.createGame("alice", "too small", 99)
	assert.ErrorIs(t, err, models.ErrInvalidStake)

	_, err = ts.games.createGame("alice", "too big", 100_001)
	assert.ErrorIs(t, err, models.ErrInvalidStake)
}

func TestJoinGameActivatesWithCreatorsTurn(t *testing.T) {
	ts := newTestStack(t, MoveModeDirect)

	game, err := ts.games.createGame("alice", "match", 1_000)
	require.NoError(t, err)

	game, err = ts.games.joinGame(game.ID, "bob", 1_000)
	require.NoError(t, err)

	assert.Equal(t, models.GameStateActive, game.State)
	assert.Equal(t, "bob", *game.PlayerTwo)
	assert.Equal(t, "alice", game.CurrentTurn)
	assert.Equal(t, uint64(2_000), game.TotalPooled)

	value, err := ts.ledger.ValueOf(game.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000), value)
}

func TestJoinGameValidation(t *testing.T) {
	ts := newTestStack(t, MoveModeDirect)

	_, err := ts.games.joinGame(404, "bob", 1_000)
	assert.ErrorIs(t, err, models.ErrGameNotFound)

	game, err := ts.games.createGame("alice", "match", 1_000)
	require.NoError(t, err)

	_, err = ts.games.joinGame(game.ID, "alice", 1_000)
	assert.ErrorIs(t, err, models.ErrSelfJoin)

	_, err = ts.games.joinGame(game.ID, "bob", 999)
	assert.ErrorIs(t, err, models.ErrStakeMismatch)

	_, err = ts.games.joinGame(game.ID, "bob", 1_000)
	require.NoError(t, err)

	_, err = ts.games.joinGame(game.ID, "carol", 1_000)
	assert.ErrorIs(t, err, models.ErrNotJoinable)
}

func TestTurnAlternation(t *testing.T) {
	ts := newTestStack(t, MoveModeDirect)
	game := ts.startedGame(t, "alice", "bob", 1_000)

	// Bob cannot move first.
	_, err := ts.games.executeMove(game.ID, "bob", "e7e5")
	assert.ErrorIs(t, err, models.ErrWrongTurn)

	// Outsiders cannot move at all.
	_, err = ts.games.executeMove(game.ID, "mallory", "e2e4")
	assert.ErrorIs(t, err, models.ErrNotPlayer)

	game, err = ts.games.executeMove(game.ID, "alice", "e2e4")
	require.NoError(t, err)
	assert.Equal(t, "bob", game.CurrentTurn)

	game, err = ts.games.executeMove(game.ID, "bob", "e7e5")
	require.NoError(t, err)
	assert.Equal(t, "alice", game.CurrentTurn)
	assert.Equal(t, 2, game.MoveCount)

	var moves []models.GameMove
	require.NoError(t, ts.db.Where("game_id = ?", game.ID).Order("seq").Find(&moves).Error)
	require.Len(t, moves, 2)
	assert.Equal(t, "alice", moves[0].Player)
	assert.Equal(t, "bob", moves[1].Player)
}

func TestMoveRequiresActiveGame(t *testing.T) {
	ts := newTestStack(t, MoveModeDirect)

	game, err := ts.games.createGame("alice", "match", 1_000)
	require.NoError(t, err)

	_, err = ts.games.executeMove(game.ID, "alice", "e2e4")
	assert.ErrorIs(t, err, models.ErrNotActive)

	_, err = ts.games.executeMove(404, "alice", "e2e4")
	assert.ErrorIs(t, err, models.ErrGameNotFound)
}

func TestClaimTimeoutAwardsLastMover(t *testing.T) {
	ts := newTestStack(t, MoveModeDirect)
	game := ts.startedGame(t, "alice", "bob", 1_000)

	_, err := ts.games.executeMove(game.ID, "alice", "e2e4")
	require.NoError(t, err)

	// Too early.
	_, err = ts.games.claimTimeout(game.ID)
	assert.ErrorIs(t, err, models.ErrTimeoutNotReached)

	// It is bob's turn and bob has stalled past the limit.
	require.NoError(t, ts.db.Model(&models.Game{}).
		Where("id = ?", game.ID).
		Update("last_action_at", time.Now().Add(-25*time.Hour)).Error)

	game, err = ts.games.claimTimeout(game.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GameStateCompleted, game.State)
	assert.Equal(t, "alice", *game.Winner)
	assert.Equal(t, uint64(2_000), ts.gateway.pushes["alice"])
}

func TestSettlePaysPrincipalPlusYieldOnce(t *testing.T) {
	ts := newTestStack(t, MoveModeDirect)
	game := ts.startedGame(t, "alice", "bob", 1_000)

	ts.pool.Accrue(200)

	game, err := ts.games.settle(game.ID, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.GameStateCompleted, game.State)
	assert.Equal(t, "bob", *game.Winner)
	assert.Equal(t, uint64(2_200), ts.gateway.pushes["bob"])

	var rec models.SettlementRecord
	require.NoError(t, ts.db.First(&rec, "game_id = ?", game.ID).Error)
	assert.Equal(t, uint64(2_000), rec.Principal)
	assert.Equal(t, uint64(200), rec.Yield)
	assert.Equal(t, uint64(2_200), rec.Total)
	assert.Equal(t, "settle", rec.Reason)

	// The game's claim is closed off.
	var count int64
	require.NoError(t, ts.db.Model(&models.LedgerAccount{}).Where("game_id = ?", game.ID).Count(&count).Error)
	assert.Equal(t, int64(0), count)

	// A second settlement finds nothing active and moves no value.
	_, err = ts.games.settle(game.ID, "alice", "alice")
	assert.ErrorIs(t, err, models.ErrNotActive)
	assert.Equal(t, uint64(2_200), ts.gateway.pushes["bob"])
	assert.Equal(t, uint64(0), ts.gateway.pushes["alice"])
}

func TestSettleAuthorization(t *testing.T) {
	ts := newTestStack(t, MoveModeDirect)
	game := ts.startedGame(t, "alice", "bob", 1_000)

	_, err := ts.games.settle(game.ID, "mallory", "bob")
	assert.ErrorIs(t, err, models.ErrNotPlayer)

	_, err = ts.games.settle(game.ID, "alice", "mallory")
	assert.ErrorIs(t, err, models.ErrNotPlayer)
}

func TestResignAwardsOpponent(t *testing.T) {
	ts := newTestStack(t, MoveModeDirect)
	game := ts.startedGame(t, "alice", "bob", 1_000)

	game, err := ts.games.resign(game.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.GameStateCompleted, game.State)
	assert.Equal(t, "bob", *game.Winner)
	assert.Equal(t, uint64(2_000), ts.gateway.pushes["bob"])
}

func TestCancelRefundsCreator(t *testing.T) {
	ts := newTestStack(t, MoveModeDirect)

	game, err := ts.games.createGame("alice", "match", 1_000)
	require.NoError(t, err)

	_, err = ts.games.cancelGame(game.ID, "bob")
	assert.ErrorIs(t, err, models.ErrNotPlayer)

	game, err = ts.games.cancelGame(game.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.GameStateCancelled, game.State)
	assert.Equal(t, uint64(1_000), ts.gateway.pushes["alice"])

	// Cancelled games cannot be joined or re-cancelled.
	_, err = ts.games.joinGame(game.ID, "bob", 1_000)
	assert.ErrorIs(t, err, models.ErrNotJoinable)
	_, err = ts.games.cancelGame(game.ID, "alice")
	assert.ErrorIs(t, err, models.ErrNotCancellable)
}

func TestDirectMovesDisabledInConsensusMode(t *testing.T) {
	ts := newTestStack(t, MoveModeConsensus)
	game := ts.startedGame(t, "alice", "bob", 1_000)

	_, err := ts.games.executeMove(game.ID, "alice", "e2e4")
	assert.ErrorIs(t, err, models.ErrDirectMovesDisabled)
}
