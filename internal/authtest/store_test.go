package authtest

import (
	"context"
	"errors"
	"testing"

	"github.com/nimbusid/authapi/internal/auth"
)

func TestRunInTxRollsBack(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	err := s.RunInTx(ctx, func(ctx context.Context, tx auth.Store) error {
		if err := tx.Principals().Create(ctx, &auth.Principal{Kind: auth.KindUser, Email: "a@example.com"}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	if err == nil {
		t.Fatalf("expected abort error")
	}
	if n := len(s.PrincipalList(auth.KindUser)); n != 0 {
		t.Fatalf("expected rollback, found %d principals", n)
	}
}

func TestRunInTxCommits(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	err := s.RunInTx(ctx, func(ctx context.Context, tx auth.Store) error {
		if err := tx.Principals().Create(ctx, &auth.Principal{Kind: auth.KindAdmin, Email: "Root@Example.com"}); err != nil {
			return err
		}
		return tx.AuthEvents().Append(ctx, auth.KindAdmin, &auth.AuthEvent{Action: "admin_login", Outcome: "success"})
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}
	admins := s.PrincipalList(auth.KindAdmin)
	if len(admins) != 1 || admins[0].Email != "root@example.com" {
		t.Fatalf("unexpected admins %+v", admins)
	}
	if len(s.Events(auth.KindAdmin)) != 1 || len(s.Events(auth.KindUser)) != 0 {
		t.Fatalf("events not partitioned by kind")
	}
}

func TestFailOnAndDuplicates(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	boom := errors.New("boom")
	s.FailOn(OpAuthEventAppend, boom)
	if err := s.AuthEvents().Append(ctx, auth.KindUser, &auth.AuthEvent{}); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	s.FailOn(OpAuthEventAppend, nil)
	if err := s.AuthEvents().Append(ctx, auth.KindUser, &auth.AuthEvent{}); err != nil {
		t.Fatalf("expected failure cleared, got %v", err)
	}

	s.AddPrincipal(auth.Principal{Kind: auth.KindUser, Email: "a@example.com"})
	err := s.Principals().Create(ctx, &auth.Principal{Kind: auth.KindUser, Email: "A@example.com"})
	if !errors.Is(err, auth.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	taken, err := s.Principals().EmailTaken(ctx, auth.KindAdmin, "a@example.com")
	if err != nil || taken {
		t.Fatalf("admin namespace must be separate: %v %v", taken, err)
	}
}

func TestPermissionsRequireBothFlags(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	if err := s.Permissions().Ensure(ctx, auth.BuiltinPermissions); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := s.Permissions().Grant(ctx, "u1", auth.PermProfileRead, true); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if ok, _ := s.Permissions().Has(ctx, "u1", auth.PermProfileRead); !ok {
		t.Fatalf("expected permission")
	}
	s.SetPermissionEnabled(auth.PermProfileRead, false)
	if ok, _ := s.Permissions().Has(ctx, "u1", auth.PermProfileRead); ok {
		t.Fatalf("disabled permission must not be held")
	}
	if err := s.Permissions().Grant(ctx, "u1", "nope", true); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
