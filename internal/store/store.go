// Package store persists ended rounds so history survives restarts and older pages can be
// fetched past the in-memory window.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DoyleJ11/round-sync/internal/engine"
	"github.com/DoyleJ11/round-sync/internal/room"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

var ErrUnknownDriver = errors.New("unknown database driver")

type RoundRecord struct {
	ID          uint   `gorm:"primaryKey"`
	Room        string `gorm:"not null;index:idx_room_ended,priority:1"`
	RoundID     string `gorm:"not null;uniqueIndex"`
	Game        string `gorm:"not null"`
	Status      string
	TotalAmount int64
	Multiplier  float64
	Winner      string
	StartedAt   time.Time
	EndedAt     time.Time `gorm:"index:idx_room_ended,priority:2"`
	Bets        datatypes.JSON
	Data        datatypes.JSON
	CreatedAt   time.Time
}

// Open connects with "postgres" (pgx) or "sqlite".
func Open(driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}

	switch driver {
	case "postgres":
		return gorm.Open(postgres.Open(dsn), cfg)
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(dsn), cfg)
		if err != nil {
			return nil, err
		}
		if strings.Contains(dsn, ":memory:") {
			// Each connection would get its own empty database.
			sqlDB, err := db.DB()
			if err != nil {
				return nil, err
			}
			sqlDB.SetMaxOpenConns(1)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("%q: %w", driver, ErrUnknownDriver)
	}
}

type Store struct {
	db   *gorm.DB
	keep int
	log  *zap.Logger
}

// New wraps db. keep bounds the stored rounds per room; zero keeps everything.
func New(db *gorm.DB, keep int, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, keep: keep, log: log.Named("store")}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&RoundRecord{})
}

// SaveRound stores an ended round. Saving the same round twice is a no-op.
func (s *Store) SaveRound(ctx context.Context, roomName string, r engine.Round) error {
	rec, err := toRecord(roomName, r)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "round_id"}}, DoNothing: true}).
		Create(&rec).Error
}

// ListHistory returns ended rounds of a room, newest first.
func (s *Store) ListHistory(ctx context.Context, roomName string, offset, limit int) ([]engine.Round, error) {
	var recs []RoundRecord
	err := s.db.WithContext(ctx).
		Where("room = ?", roomName).
		Order("ended_at desc, id desc").
		Offset(offset).
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	rounds := make([]engine.Round, 0, len(recs))
	for _, rec := range recs {
		r, err := rec.toRound()
		if err != nil {
			return nil, fmt.Errorf("round %s: %w", rec.RoundID, err)
		}
		rounds = append(rounds, r)
	}
	return rounds, nil
}

// Prune deletes all but the newest keep rounds of a room.
func (s *Store) Prune(ctx context.Context, roomName string, keep int) (int64, error) {
	db := s.db.WithContext(ctx)
	newest := db.Model(&RoundRecord{}).
		Select("id").
		Where("room = ?", roomName).
		Order("ended_at desc, id desc").
		Limit(keep)

	res := db.Where("room = ? AND id NOT IN (?)", roomName, newest).Delete(&RoundRecord{})
	return res.RowsAffected, res.Error
}

// Observe persists every round the room ended.
func (s *Store) Observe(ctx context.Context, snap room.Snapshot, events []engine.Event) error {
	saved := 0
	for _, ev := range events {
		if ev.Type != engine.EvtRoundEnded || ev.Round == nil {
			continue
		}
		if err := s.SaveRound(ctx, snap.Room, *ev.Round); err != nil {
			return fmt.Errorf("save round %s: %w", ev.RoundID, err)
		}
		saved++
	}
	if saved == 0 || s.keep <= 0 {
		return nil
	}

	n, err := s.Prune(ctx, snap.Room, s.keep)
	if err != nil {
		return fmt.Errorf("prune %s: %w", snap.Room, err)
	}
	if n > 0 {
		s.log.Debug("pruned rounds", zap.String("room", snap.Room), zap.Int64("deleted", n))
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(roomName string, r engine.Round) (RoundRecord, error) {
	bets, err := json.Marshal(r.Bets)
	if err != nil {
		return RoundRecord{}, err
	}
	data, err := json.Marshal(r.Data)
	if err != nil {
		return RoundRecord{}, err
	}
	return RoundRecord{
		Room:        roomName,
		RoundID:     r.RoundID,
		Game:        string(r.Game),
		Status:      string(r.Status),
		TotalAmount: r.TotalAmount,
		Multiplier:  r.Multiplier,
		Winner:      r.Winner,
		StartedAt:   r.StartedAt,
		EndedAt:     r.EndedAt,
		Bets:        datatypes.JSON(bets),
		Data:        datatypes.JSON(data),
	}, nil
}

func (rec RoundRecord) toRound() (engine.Round, error) {
	r := engine.Round{
		RoundID:     rec.RoundID,
		Game:        engine.Game(rec.Game),
		Status:      engine.Status(rec.Status),
		Bets:        []engine.Bet{},
		TotalAmount: rec.TotalAmount,
		Multiplier:  rec.Multiplier,
		Winner:      rec.Winner,
		StartedAt:   rec.StartedAt,
		EndedAt:     rec.EndedAt,
	}
	if len(rec.Bets) > 0 {
		if err := json.Unmarshal(rec.Bets, &r.Bets); err != nil {
			return engine.Round{}, err
		}
		if r.Bets == nil {
			r.Bets = []engine.Bet{}
		}
	}
	if len(rec.Data) > 0 && string(rec.Data) != "null" {
		if err := json.Unmarshal(rec.Data, &r.Data); err != nil {
			return engine.Round{}, err
		}
	}
	return r, nil
}
