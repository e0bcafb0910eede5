package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/secret-word-backend/internal/engine"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const postgresChannel = "room_changes"

type roomRecord struct {
	Namespace string `gorm:"primaryKey"`
	ID        string `gorm:"primaryKey"`
	Version   int64  `gorm:"not null"`
	Body      datatypes.JSON
	UpdatedAt time.Time
}

func (roomRecord) TableName() string { return "rooms" }

func lockingClause() clause.Expression {
	return clause.Locking{Strength: "UPDATE"}
}

// notification is the NOTIFY payload; the document itself is re-read since
// NOTIFY payloads are size limited.
type notification struct {
	Namespace string `json:"ns"`
	RoomID    string `json:"id"`
	Version   int64  `json:"version"`
	Deleted   bool   `json:"deleted,omitempty"`
}

// PostgresStore keeps rooms as versioned JSONB rows. Writes are conditional
// on the version read; commits are announced with NOTIFY and consumed with
// LISTEN on a dedicated pgx connection per subscription.
type PostgresStore struct {
	db   *gorm.DB
	pool *pgxpool.Pool
	opts Options
}

func NewPostgresStore(ctx context.Context, dsn string, opts Options) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&roomRecord{}); err != nil {
		return nil, fmt.Errorf("migrate rooms table: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open listen pool: %w", err)
	}

	return &PostgresStore{db: db, pool: pool, opts: opts.withDefaults()}, nil
}

func (ps *PostgresStore) scoped(ctx context.Context, tx *gorm.DB, roomID string) *gorm.DB {
	return tx.WithContext(ctx).Where("namespace = ? AND id = ?", ps.opts.Namespace, roomID)
}

func (ps *PostgresStore) read(ctx context.Context, tx *gorm.DB, roomID string) (engine.Room, int64, error) {
	var rec roomRecord
	err := ps.scoped(ctx, tx, roomID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return engine.Room{}, 0, ErrNotFound
	}
	if err != nil {
		return engine.Room{}, 0, fmt.Errorf("get room %s: %w", roomID, err)
	}
	if ps.opts.RoomTTL > 0 && time.Since(rec.UpdatedAt) > ps.opts.RoomTTL {
		return engine.Room{}, 0, ErrNotFound
	}

	var room engine.Room
	if err := json.Unmarshal(rec.Body, &room); err != nil {
		return engine.Room{}, 0, fmt.Errorf("decode room %s: %w", roomID, err)
	}
	return room, rec.Version, nil
}

func (ps *PostgresStore) notify(ctx context.Context, tx *gorm.DB, roomID string, version int64, deleted bool) error {
	payload, err := json.Marshal(notification{
		Namespace: ps.opts.Namespace,
		RoomID:    roomID,
		Version:   version,
		Deleted:   deleted,
	})
	if err != nil {
		return err
	}
	return tx.WithContext(ctx).Exec("SELECT pg_notify(?, ?)", postgresChannel, string(payload)).Error
}

// write replaces the row only if it still holds expected. It reports false
// when another commit got there first.
func (ps *PostgresStore) write(ctx context.Context, tx *gorm.DB, roomID string, expected int64, room *engine.Room) (bool, error) {
	var res *gorm.DB
	if room == nil {
		res = ps.scoped(ctx, tx, roomID).Where("version = ?", expected).Delete(&roomRecord{})
	} else {
		body, err := json.Marshal(room)
		if err != nil {
			return false, fmt.Errorf("encode room %s: %w", roomID, err)
		}
		res = ps.scoped(ctx, tx, roomID).Model(&roomRecord{}).
			Where("version = ?", expected).
			Updates(map[string]any{
				"version":    expected + 1,
				"body":       datatypes.JSON(body),
				"updated_at": time.Now(),
			})
	}
	if res.Error != nil {
		return false, fmt.Errorf("write room %s: %w", roomID, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	return true, ps.notify(ctx, tx, roomID, expected+1, room == nil)
}

func (ps *PostgresStore) Get(ctx context.Context, roomID string) (engine.Room, int64, error) {
	return ps.read(ctx, ps.db, roomID)
}

func (ps *PostgresStore) Create(ctx context.Context, room engine.Room) (int64, error) {
	body, err := json.Marshal(room)
	if err != nil {
		return 0, fmt.Errorf("encode room %s: %w", room.ID, err)
	}
	rec := roomRecord{
		Namespace: ps.opts.Namespace,
		ID:        room.ID,
		Version:   1,
		Body:      datatypes.JSON(body),
		UpdatedAt: time.Now(),
	}

	err = ps.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// An expired row is dead weight; clear it so the code can be reused.
		if ps.opts.RoomTTL > 0 {
			if err := ps.scoped(ctx, tx, room.ID).
				Where("updated_at < ?", time.Now().Add(-ps.opts.RoomTTL)).
				Delete(&roomRecord{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		return ps.notify(ctx, tx, room.ID, rec.Version, false)
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return 0, ErrAlreadyExists
	}
	if err != nil {
		return 0, fmt.Errorf("create room %s: %w", room.ID, err)
	}
	return rec.Version, nil
}

func (ps *PostgresStore) Transact(ctx context.Context, roomID string, fn TxFunc) (int64, error) {
	for attempt := 1; attempt <= ps.opts.MaxRetries; attempt++ {
		current, version, err := ps.read(ctx, ps.db, roomID)
		if err != nil {
			return 0, err
		}
		next, err := fn(current)
		if err != nil {
			return 0, err
		}

		var committed bool
		err = ps.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var werr error
			committed, werr = ps.write(ctx, tx, roomID, version, next)
			return werr
		})
		if err != nil {
			return 0, err
		}
		if committed {
			return version + 1, nil
		}
		zap.L().Debug("room transaction conflict",
			zap.String("room_id", roomID),
			zap.Int("attempt", attempt),
		)
	}
	return 0, ErrAborted
}

func (ps *PostgresStore) Update(ctx context.Context, roomID string, patch PatchFunc) (int64, error) {
	var version int64
	err := ps.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, current, err := ps.read(ctx, tx.Clauses(lockingClause()), roomID)
		if err != nil {
			return err
		}
		patch(&room)
		ok, err := ps.write(ctx, tx, roomID, current, &room)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		version = current + 1
		return nil
	})
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (ps *PostgresStore) Delete(ctx context.Context, roomID string) error {
	return ps.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, current, err := ps.read(ctx, tx.Clauses(lockingClause()), roomID)
		if err != nil {
			return err
		}
		ok, err := ps.write(ctx, tx, roomID, current, nil)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		return nil
	})
}

func (ps *PostgresStore) Subscribe(ctx context.Context, roomID string) (<-chan Change, error) {
	pooled, err := ps.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	// A LISTENing connection must not go back to the pool.
	conn := pooled.Hijack()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{postgresChannel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("listen %s: %w", postgresChannel, err)
	}

	room, version, err := ps.Get(ctx, roomID)
	if err != nil {
		_ = conn.Close(context.Background())
		return nil, err
	}

	out := newChangeStream(1)
	out.send(ctx, Change{RoomID: roomID, Version: version, Room: &room})

	go func() {
		defer close(out.out)
		defer conn.Close(context.Background())

		for {
			n, err := conn.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					out.send(ctx, Change{RoomID: roomID, Err: fmt.Errorf("wait for notification: %w", err)})
				}
				return
			}

			var note notification
			if err := json.Unmarshal([]byte(n.Payload), &note); err != nil {
				continue
			}
			if note.Namespace != ps.opts.Namespace || note.RoomID != roomID {
				continue
			}
			if note.Version <= out.last {
				continue
			}

			if note.Deleted {
				out.send(ctx, Change{RoomID: roomID, Version: note.Version, Deleted: true})
				return
			}

			room, version, err := ps.Get(ctx, roomID)
			if errors.Is(err, ErrNotFound) {
				// Deleted before we could read it; the delete notification follows.
				continue
			}
			if err != nil {
				if !out.send(ctx, Change{RoomID: roomID, Err: err}) {
					return
				}
				continue
			}
			if !out.send(ctx, Change{RoomID: roomID, Version: version, Room: &room}) {
				return
			}
		}
	}()
	return out.out, nil
}

func (ps *PostgresStore) Close() error {
	ps.pool.Close()
	sqlDB, err := ps.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
