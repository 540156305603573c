// Package store records finished matches.
package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Result struct {
	RoomID         string    `json:"roomId"`
	Winner         string    `json:"winner"`
	Moves          int       `json:"moves"`
	ClientDeclared bool      `json:"clientDeclared"`
	FinishedAt     time.Time `json:"finishedAt"`
}

type Recorder interface {
	Record(ctx context.Context, r Result) error
}

type Lister interface {
	Recent(ctx context.Context, limit int) ([]Result, error)
}

type MatchResult struct {
	gorm.Model
	RoomID         string `gorm:"index"`
	Winner         string
	Moves          int
	ClientDeclared bool
	FinishedAt     time.Time `gorm:"index"`
}

type GormStore struct {
	db *gorm.DB
}

// OpenPostgres connects with the pgx-backed postgres driver and migrates the schema.
func OpenPostgres(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewGormStore(db)
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&MatchResult{}); err != nil {
		return nil, fmt.Errorf("migrate match results: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Record(ctx context.Context, r Result) error {
	row := MatchResult{
		RoomID:         r.RoomID,
		Winner:         r.Winner,
		Moves:          r.Moves,
		ClientDeclared: r.ClientDeclared,
		FinishedAt:     r.FinishedAt,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *GormStore) Recent(ctx context.Context, limit int) ([]Result, error) {
	var rows []MatchResult
	err := s.db.WithContext(ctx).
		Order("finished_at desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(rows))
	for _, row := range rows {
		out = append(out, Result{
			RoomID:         row.RoomID,
			Winner:         row.Winner,
			Moves:          row.Moves,
			ClientDeclared: row.ClientDeclared,
			FinishedAt:     row.FinishedAt,
		})
	}
	return out, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Async takes results off the room goroutines; Run writes them to the Recorder.
type Async struct {
	rec   Recorder
	queue chan Result
	log   *zap.Logger
}

func NewAsync(rec Recorder, size int, log *zap.Logger) *Async {
	return &Async{
		rec:   rec,
		queue: make(chan Result, size),
		log:   log,
	}
}

// Record never blocks. When the queue is full the result is dropped.
func (a *Async) Record(r Result) {
	select {
	case a.queue <- r:
	default:
		a.log.Warn("result queue full, dropping result",
			zap.String("room", r.RoomID),
			zap.String("winner", r.Winner),
		)
	}
}

func (a *Async) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			a.drain()
			return nil
		case r := <-a.queue:
			a.write(ctx, r)
		}
	}
}

func (a *Async) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case r := <-a.queue:
			a.write(ctx, r)
		default:
			return
		}
	}
}

func (a *Async) write(ctx context.Context, r Result) {
	if err := a.rec.Record(ctx, r); err != nil {
		a.log.Error("record result", zap.String("room", r.RoomID), zap.Error(err))
		return
	}
	a.log.Debug("result recorded", zap.String("room", r.RoomID), zap.String("winner", r.Winner))
}
