package db

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const keepaliveInterval = 10 * time.Second

// Store wraps a Mongo client bound to one database and tracks its health
// with a background ping loop.
type Store struct {
	client  *mongo.Client
	db      *mongo.Database
	log     *slog.Logger
	healthy atomic.Bool
	stop    chan struct{}
}

// Connect dials uri and verifies the primary is reachable.
func Connect(ctx context.Context, uri, database string, poolSize int, log *slog.Logger) (*Store, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(uint64(poolSize)).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("db: connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("db: ping: %w", err)
	}

	s := &Store{
		client: client,
		db:     client.Database(database),
		log:    log,
		stop:   make(chan struct{}),
	}
	s.healthy.Store(true)
	go s.keepalive()
	return s, nil
}

func (s *Store) Database() *mongo.Database { return s.db }

func (s *Store) Collection(name string) *mongo.Collection {
	return s.db.Collection(name)
}

// Healthy reports the result of the most recent keepalive ping.
func (s *Store) Healthy() bool { return s.healthy.Load() }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) keepalive() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := s.Ping(ctx)
			cancel()
			was := s.healthy.Swap(err == nil)
			switch {
			case err != nil && was:
				s.log.Warn("db: ping failed", "err", err)
			case err == nil && !was:
				s.log.Info("db: connection restored")
			}
		}
	}
}

func (s *Store) Close(ctx context.Context) error {
	close(s.stop)
	return s.client.Disconnect(ctx)
}
