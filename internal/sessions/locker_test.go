package sessions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestLocalLocker_Serializes(t *testing.T) {
	locker := NewLocalLocker()
	ctx := context.Background()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := locker.Lock(ctx, "c1"); err != nil {
				t.Errorf("Lock() error = %v", err)
				return
			}
			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&active, -1)
			locker.Unlock("c1")
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", maxActive)
	}
	if len(locker.locks) != 0 {
		t.Errorf("idle lock entries leaked: %d", len(locker.locks))
	}
}

func TestLocalLocker_IndependentConversations(t *testing.T) {
	locker := NewLocalLocker()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := locker.Lock(ctx, "a"); err != nil {
		t.Fatalf("Lock(a) error = %v", err)
	}
	if err := locker.Lock(ctx, "b"); err != nil {
		t.Fatalf("Lock(b) error = %v", err)
	}
	locker.Unlock("a")
	locker.Unlock("b")
}

func TestLocalLocker_ContextCancel(t *testing.T) {
	locker := NewLocalLocker()
	if err := locker.Lock(context.Background(), "c1"); err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	defer locker.Unlock("c1")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := locker.Lock(ctx, "c1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Lock() error = %v, want DeadlineExceeded", err)
	}
}

func TestLocalLocker_UnlockNotHeld(t *testing.T) {
	locker := NewLocalLocker()
	locker.Unlock("never-locked")

	var nilLocker *LocalLocker
	nilLocker.Unlock("c1")
	if err := nilLocker.Lock(context.Background(), "c1"); err == nil {
		t.Fatal("nil locker Lock() should fail")
	}
}

func TestDBLockerLockUnlock(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	locker, err := NewDBLocker(db, DBLockerConfig{
		OwnerID:         "node-1",
		TTL:             time.Minute,
		RefreshInterval: time.Hour,
		AcquireTimeout:  time.Second,
		PollInterval:    10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewDBLocker: %v", err)
	}
	defer locker.Close()

	mock.ExpectQuery("INSERT INTO conversation_locks").
		WithArgs("conv-1", "node-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow("node-1"))

	if err := locker.Lock(context.Background(), "conv-1"); err != nil {
		t.Fatalf("Lock: %v", err)
	}

	mock.ExpectExec("DELETE FROM conversation_locks").
		WithArgs("conv-1", "node-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	locker.Unlock("conv-1")

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDBLockerTimeout(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	locker, err := NewDBLocker(db, DBLockerConfig{
		OwnerID:        "node-1",
		AcquireTimeout: 15 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewDBLocker: %v", err)
	}
	defer locker.Close()

	for i := 0; i < 5; i++ {
		mock.ExpectQuery("INSERT INTO conversation_locks").
			WillReturnRows(sqlmock.NewRows([]string{"owner_id"}))
	}

	if err := locker.Lock(context.Background(), "conv-1"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("Lock() error = %v, want ErrLockTimeout", err)
	}
}

func TestNewDBLockerValidation(t *testing.T) {
	if _, err := NewDBLocker(nil, DBLockerConfig{OwnerID: "x"}); err == nil {
		t.Error("expected error for nil db")
	}
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	if _, err := NewDBLocker(db, DBLockerConfig{}); err == nil {
		t.Error("expected error for missing owner id")
	}
}
