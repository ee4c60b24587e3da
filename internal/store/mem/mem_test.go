package mem

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"skillflow.org/internal/auth"
)

func TestCreateAccountAssignsSequentialIDs(t *testing.T) {
	s := New()
	ctx := context.Background()

	a := &auth.Account{Email: "a@x.com", Roles: []string{"student"}}
	b := &auth.Account{Email: "b@x.com", Roles: []string{"student"}}
	if err := s.Accounts().Create(ctx, a); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if err := s.Accounts().Create(ctx, b); err != nil {
		t.Fatalf("create b: %v", err)
	}
	if a.ID != 1 || b.ID != 2 {
		t.Fatalf("unexpected ids: %d, %d", a.ID, b.ID)
	}

	if err := s.Accounts().Create(ctx, &auth.Account{Email: "a@x.com"}); !errors.Is(err, auth.ErrEmailExists) {
		t.Fatalf("duplicate email err = %v, want ErrEmailExists", err)
	}
}

func TestFindReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	account := &auth.Account{Email: "a@x.com", Roles: []string{"student"}}
	if err := s.Accounts().Create(ctx, account); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.Accounts().Find(ctx, account.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	got.Roles[0] = "superadmin"

	again, err := s.Accounts().Find(ctx, account.ID)
	if err != nil {
		t.Fatalf("find again: %v", err)
	}
	if again.Roles[0] != "student" {
		t.Fatal("mutating a returned account leaked into the store")
	}
}

func TestGrantsFilterByExpiry(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	grants := s.Grants()
	_ = grants.Append(ctx, auth.TemporaryGrant{AccountID: 1, Role: "instructor", ExpiresAt: now.Add(time.Hour)})
	_ = grants.Append(ctx, auth.TemporaryGrant{AccountID: 1, Role: "admin", ExpiresAt: now.Add(-time.Minute)})

	active, err := grants.Active(ctx, 1, now)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 1 || active[0].Role != "instructor" {
		t.Fatalf("unexpected active grants: %+v", active)
	}
}

func TestRevokeDropsRoleAndExpired(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	grants := s.Grants()
	_ = grants.Append(ctx, auth.TemporaryGrant{AccountID: 1, Role: "instructor", ExpiresAt: now.Add(time.Hour)})
	_ = grants.Append(ctx, auth.TemporaryGrant{AccountID: 1, Role: "admin", ExpiresAt: now.Add(time.Hour)})
	_ = grants.Append(ctx, auth.TemporaryGrant{AccountID: 1, Role: "superadmin", ExpiresAt: now.Add(-time.Second)})

	remaining, err := grants.Revoke(ctx, 1, "admin", now)
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Role != "instructor" {
		t.Fatalf("unexpected remaining grants: %+v", remaining)
	}
}

func TestMarkBackupCodeUsedIsCompareAndSet(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.MFA().SaveBackupCodes(ctx, 1, []auth.BackupCode{{Hash: "h0"}, {Hash: "h1"}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.MFA().MarkBackupCodeUsed(ctx, 1, 0); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("%d concurrent marks succeeded, want exactly 1", wins)
	}

	if err := s.MFA().MarkBackupCodeUsed(ctx, 1, 0); !errors.Is(err, auth.ErrInvalidOrUsed) {
		t.Fatalf("second mark err = %v, want ErrInvalidOrUsed", err)
	}
	if err := s.MFA().MarkBackupCodeUsed(ctx, 1, 99); !errors.Is(err, auth.ErrInvalidOrUsed) {
		t.Fatalf("out-of-range mark err = %v, want ErrInvalidOrUsed", err)
	}
}

func TestPhoneChallengeAttempts(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Phone().Put(ctx, auth.PhoneChallenge{ID: "c1", Phone: "+100", Code: "123456", ExpiresAt: time.Now().Add(time.Minute)})

	for want := 1; want <= 3; want++ {
		got, err := s.Phone().IncrementAttempts(ctx, "+100")
		if err != nil {
			t.Fatalf("increment: %v", err)
		}
		if got != want {
			t.Fatalf("attempts = %d, want %d", got, want)
		}
	}
	if err := s.Phone().Delete(ctx, "+100"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Phone().Find(ctx, "+100"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("find after delete err = %v", err)
	}
}
