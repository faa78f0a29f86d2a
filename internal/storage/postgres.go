package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/choco0031/thisorthat/pkg/types"
)

// GameRecord is one finished game. Sessions themselves are never stored.
type GameRecord struct {
	ID           uint   `gorm:"primaryKey"`
	Code         string `gorm:"size:6;index"`
	Host         string `gorm:"size:64"`
	Players      int
	TotalRounds  int
	RoundsPlayed int
	// Winners is a comma separated list; empty when nobody scored.
	Winners   string
	TopScore  int
	Scores    string `gorm:"type:jsonb"`
	StartedAt time.Time
	EndedAt   time.Time
	CreatedAt time.Time
}

// NewRecord flattens a summary into a row.
func NewRecord(s types.GameSummary) (GameRecord, error) {
	scores := s.FinalScores
	if scores == nil {
		scores = map[string]int{}
	}
	raw, err := json.Marshal(scores)
	if err != nil {
		return GameRecord{}, fmt.Errorf("marshal scores: %w", err)
	}

	top := 0
	var winners []string
	for name, pts := range scores {
		switch {
		case pts > top:
			top = pts
			winners = []string{name}
		case pts == top && pts > 0:
			winners = append(winners, name)
		}
	}
	slices.Sort(winners)

	return GameRecord{
		Code:         s.Code,
		Host:         s.Host,
		Players:      len(s.Players),
		TotalRounds:  s.TotalRounds,
		RoundsPlayed: s.RoundsPlayed,
		Winners:      strings.Join(winners, ","),
		TopScore:     top,
		Scores:       string(raw),
		StartedAt:    s.StartedAt,
		EndedAt:      s.EndedAt,
	}, nil
}

// Open connects through pgx and migrates the archive table.
func Open(ctx context.Context, dsn string) (*gorm.DB, error) {
	pcfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	sqlDB := stdlib.OpenDB(*pcfg)

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("open gorm: %w", err), sqlDB.Close())
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, multierr.Append(fmt.Errorf("ping database: %w", err), sqlDB.Close())
	}
	if err := db.WithContext(ctx).AutoMigrate(&GameRecord{}); err != nil {
		return nil, multierr.Append(fmt.Errorf("migrate: %w", err), sqlDB.Close())
	}
	return db, nil
}

// Recorder writes finished games on its own goroutine so the hub never
// waits on the database.
type Recorder struct {
	log   *zap.Logger
	queue chan types.GameSummary
	save  func(ctx context.Context, rec *GameRecord) error
	close func() error
}

func NewRecorder(db *gorm.DB, log *zap.Logger) *Recorder {
	r := newRecorder(log, 32)
	r.save = func(ctx context.Context, rec *GameRecord) error {
		return db.WithContext(ctx).Create(rec).Error
	}
	r.close = func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return r
}

func newRecorder(log *zap.Logger, size int) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{
		log:   log.Named("archive"),
		queue: make(chan types.GameSummary, size),
		close: func() error { return nil },
	}
}

// Record queues s. A full queue drops the game with a warning.
func (r *Recorder) Record(s types.GameSummary) {
	select {
	case r.queue <- s:
	default:
		r.log.Warn("archive queue full, dropping game", zap.String("code", s.Code))
	}
}

// Run saves queued games until ctx is cancelled, then flushes what is
// already queued.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return r.flush(flushCtx)
		case s := <-r.queue:
			if err := r.store(ctx, s); err != nil {
				r.log.Error("archive write failed", zap.String("code", s.Code), zap.Error(err))
			}
		}
	}
}

func (r *Recorder) flush(ctx context.Context) error {
	var errs error
	for {
		select {
		case s := <-r.queue:
			errs = multierr.Append(errs, r.store(ctx, s))
		default:
			return errs
		}
	}
}

func (r *Recorder) store(ctx context.Context, s types.GameSummary) error {
	rec, err := NewRecord(s)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.save(wctx, &rec); err != nil {
		return fmt.Errorf("save game %s: %w", s.Code, err)
	}
	r.log.Info("game archived", zap.String("code", s.Code), zap.Uint("id", rec.ID))
	return nil
}

func (r *Recorder) Close() error {
	return r.close()
}
