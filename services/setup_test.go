package services

import (
	"fmt"
	"testing"
	"time"

	"stake-match-system/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeGateway is an in-memory payment gateway recording every transfer, with
// switches to fail either direction for rollback tests.
type fakeGateway struct {
	pulls    map[string]uint64
	pushes   map[string]uint64
	failPull bool
	failPush bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{pulls: map[string]uint64{}, pushes: map[string]uint64{}}
}

func (g *fakeGateway) Pull(player string, amount uint64, reference string) error {
	if g.failPull {
		return fmt.Errorf("treasury rejected pull of %d", amount)
	}
	g.pulls[player] += amount
	return nil
}

func (g *fakeGateway) Push(player string, amount uint64, reference string) error {
	if g.failPush {
		return fmt.Errorf("treasury rejected push of %d", amount)
	}
	g.pushes[player] += amount
	return nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Game{},
		&models.GameMove{},
		&models.LedgerAccount{},
		&models.LedgerState{},
		&models.SettlementRecord{},
		&models.MoveProposal{},
		&models.ProposalVote{},
	))
	return db
}

type testStack struct {
	db        *gorm.DB
	pool      *SimulatedLendingPool
	gateway   *fakeGateway
	ledger    *LedgerService
	games     *GameService
	consensus *ConsensusService
}

func newTestStack(t *testing.T, mode MoveMode) *testStack {
	t.Helper()
	db := newTestDB(t)
	pool := NewSimulatedLendingPool()
	gateway := newFakeGateway()
	ledger := NewLedgerService(db, pool, gateway)
	games := NewGameService(db, ledger, GameConfig{
		MinStake: 100,
		MaxStake: 100_000,
		Timeout:  24 * time.Hour,
		Mode:     mode,
	})
	consensus := &ConsensusService{
		DB:           db,
		Ledger:       ledger,
		Games:        games,
		VotingPeriod: 10 * time.Minute,
	}
	return &testStack{
		db:        db,
		pool:      pool,
		gateway:   gateway,
		ledger:    ledger,
		games:     games,
		consensus: consensus,
	}
}

// closeVoting forces a proposal's window into the past so resolution paths
// can run without sleeping.
func (ts *testStack) closeVoting(t *testing.T, gameID, seq uint64) {
	t.Helper()
	err := ts.db.Model(&models.MoveProposal{}).
		Where("game_id = ? AND seq = ?", gameID, seq).
		Update("voting_ends_at", time.Now().Add(-time.Minute)).Error
	require.NoError(t, err)
}

// startedGame creates and joins a game, returning it active.
func (ts *testStack) startedGame(t *testing.T, creator, joiner string, stake uint64) *models.Game {
	t.Helper()
	game, err := ts.games.createGame(creator, "test match", stake)
	require.NoError(t, err)
	game, err = ts.games.joinGame(game.ID, joiner, stake)
	require.NoError(t, err)
	return game
}
