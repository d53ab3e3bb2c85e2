package task

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const tasksBucket = "tasks"

// Store persists tasks. CompareAndSetStatus is the only way a caller may
// claim a task for execution.
type Store interface {
	Create(ctx context.Context, t *Task) (int64, error)
	Get(ctx context.Context, id int64) (*Task, error)
	Update(ctx context.Context, t *Task) error
	CompareAndSetStatus(ctx context.Context, id int64, from, to Status) (bool, error)
	ListByStatus(ctx context.Context, statuses ...Status) ([]*Task, error)
	DeleteTerminalBefore(ctx context.Context, before time.Time) (int, error)
}

// BoltStore implements Store on a bbolt file.
type BoltStore struct {
	db     *bbolt.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewBoltStore opens (or creates) the task database at path.
func NewBoltStore(path string, logger *zap.Logger) (*BoltStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open task database: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(tasksBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create task bucket: %w", err)
	}

	logger.Debug("Task store initialized", zap.String("db_path", path))
	return &BoltStore{
		db:     db,
		logger: logger.With(zap.String("component", "task-store")),
		now:    time.Now,
	}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func itob(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func (s *BoltStore) Create(_ context.Context, t *Task) (int64, error) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(tasksBucket))
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		now := s.now()
		t.ID = int64(seq)
		if t.Status == "" {
			t.Status = StatusPreparing
		}
		t.CreateTime = now
		t.ModifyTime = now
		return put(b, t)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create task: %w", err)
	}
	s.logger.Debug("Task created",
		zap.Int64("task_id", t.ID),
		zap.String("type", string(t.Type)),
		zap.Int64("subject_id", t.SubjectID))
	return t.ID, nil
}

func (s *BoltStore) Get(_ context.Context, id int64) (*Task, error) {
	var t *Task
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		t, err = get(tx.Bucket([]byte(tasksBucket)), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *BoltStore) Update(_ context.Context, t *Task) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(tasksBucket))
		if b.Get(itob(t.ID)) == nil {
			return fmt.Errorf("%w: %d", ErrNotFound, t.ID)
		}
		t.ModifyTime = s.now()
		return put(b, t)
	})
}

func (s *BoltStore) CompareAndSetStatus(_ context.Context, id int64, from, to Status) (bool, error) {
	swapped := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(tasksBucket))
		t, err := get(b, id)
		if err != nil {
			return err
		}
		if t.Status != from {
			return nil
		}
		t.Status = to
		t.ModifyTime = s.now()
		swapped = true
		return put(b, t)
	})
	return swapped, err
}

func (s *BoltStore) ListByStatus(_ context.Context, statuses ...Status) ([]*Task, error) {
	want := make(map[Status]struct{}, len(statuses))
	for _, st := range statuses {
		want[st] = struct{}{}
	}
	var out []*Task
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(tasksBucket)).ForEach(func(k, v []byte) error {
			var t Task
			if err := json.Unmarshal(v, &t); err != nil {
				s.logger.Warn("Skipping unreadable task", zap.Binary("key", k), zap.Error(err))
				return nil
			}
			if _, ok := want[t.Status]; ok || len(want) == 0 {
				out = append(out, &t)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return out, nil
}

func (s *BoltStore) DeleteTerminalBefore(_ context.Context, before time.Time) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(tasksBucket))
		var keys [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var t Task
			if err := json.Unmarshal(v, &t); err != nil {
				return nil
			}
			if t.Status.Terminal() && t.ModifyTime.Before(before) {
				keys = append(keys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		deleted = len(keys)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge tasks: %w", err)
	}
	return deleted, nil
}

func get(b *bbolt.Bucket, id int64) (*Task, error) {
	v := b.Get(itob(id))
	if v == nil {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	var t Task
	if err := json.Unmarshal(v, &t); err != nil {
		return nil, fmt.Errorf("failed to decode task %d: %w", id, err)
	}
	return &t, nil
}

func put(b *bbolt.Bucket, t *Task) error {
	encoded, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	return b.Put(itob(t.ID), encoded)
}
