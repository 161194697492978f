package users

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/failure"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/testutil"
	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db := testutil.OpenDatabase(t, &User{})
	service, err := NewService(ServiceConfig{
		Database: db,
		Hasher:   auth.NewPasswordHasher(bcrypt.MinCost),
		Clock:    testutil.FixedClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func sampleRegistration(email string) Registration {
	return Registration{
		UserName:  "reader",
		Email:     email,
		Password:  "secret-pass",
		Address:   "Tokyo",
		Phone:     "090-0000-0000",
		RealName:  "Aoi Tanaka",
		NameKana:  "アオイ タナカ",
		BirthDate: "1990-01-01",
	}
}

func TestRegisterNormalizesEmailAndHashesPassword(t *testing.T) {
	service := newTestService(t)

	user, err := service.Register(context.Background(), sampleRegistration("  Reader@Example.COM "))
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if user.Email != "reader@example.com" {
		t.Fatalf("expected lower-cased email, got %q", user.Email)
	}
	if user.UserID != "reader" {
		t.Fatalf("expected user id from local part, got %q", user.UserID)
	}
	if user.PasswordHash == "secret-pass" || user.PasswordHash == "" {
		t.Fatalf("expected stored hash, got %q", user.PasswordHash)
	}

	authenticated, err := service.Authenticate(context.Background(), "READER@example.com", "secret-pass")
	if err != nil {
		t.Fatalf("expected login with differently cased email to succeed: %v", err)
	}
	if authenticated.ID != user.ID {
		t.Fatalf("expected same account, got %d and %d", authenticated.ID, user.ID)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	service := newTestService(t)

	if _, err := service.Register(context.Background(), sampleRegistration("dup@example.com")); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	_, err := service.Register(context.Background(), sampleRegistration("DUP@example.com"))
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
	if !errors.Is(err, failure.ErrConflict) {
		t.Fatalf("expected conflict kind, got %v", err)
	}
}

func TestRegisterSuffixesTakenUserIDs(t *testing.T) {
	service := newTestService(t)

	first, err := service.Register(context.Background(), sampleRegistration("same@example.com"))
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	second, err := service.Register(context.Background(), sampleRegistration("same@example.org"))
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	third, err := service.Register(context.Background(), sampleRegistration("same@example.net"))
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if first.UserID != "same" || second.UserID != "same-2" || third.UserID != "same-3" {
		t.Fatalf("unexpected user ids %q %q %q", first.UserID, second.UserID, third.UserID)
	}
}

func TestRegisterValidatesRequiredFields(t *testing.T) {
	service := newTestService(t)

	registration := sampleRegistration("missing@example.com")
	registration.NameKana = " "
	_, err := service.Register(context.Background(), registration)
	if !errors.Is(err, failure.ErrInvalid) || !strings.Contains(err.Error(), "name_kana") {
		t.Fatalf("expected name_kana validation error, got %v", err)
	}

	registration = sampleRegistration("short@example.com")
	registration.Password = "12345"
	_, err = service.Register(context.Background(), registration)
	if !errors.Is(err, failure.ErrInvalid) || !strings.Contains(err.Error(), "password") {
		t.Fatalf("expected password validation error, got %v", err)
	}
}

func TestAuthenticateRejectsWrongPassword(t *testing.T) {
	service := newTestService(t)
	if _, err := service.Register(context.Background(), sampleRegistration("login@example.com")); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	if _, err := service.Authenticate(context.Background(), "login@example.com", "wrong-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := service.Authenticate(context.Background(), "nobody@example.com", "secret-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestUpdateProfileChangesOnlyProvidedFields(t *testing.T) {
	service := newTestService(t)
	created, err := service.Register(context.Background(), sampleRegistration("profile@example.com"))
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	bio := "I collect first editions."
	password := "new-secret"
	updated, err := service.UpdateProfile(context.Background(), "Profile@example.com", ProfileUpdate{Bio: &bio, Password: &password})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Bio != bio {
		t.Fatalf("expected bio to change, got %q", updated.Bio)
	}
	if updated.Address != created.Address || updated.UserName != created.UserName {
		t.Fatalf("expected untouched fields to be preserved, got %+v", updated)
	}
	if _, err := service.Authenticate(context.Background(), "profile@example.com", "new-secret"); err != nil {
		t.Fatalf("expected new password to work: %v", err)
	}

	longBio := strings.Repeat("あ", maxBioLength+1)
	if _, err := service.UpdateProfile(context.Background(), "profile@example.com", ProfileUpdate{Bio: &longBio}); !errors.Is(err, failure.ErrInvalid) {
		t.Fatalf("expected bio length validation, got %v", err)
	}
}

func TestEmailOfCachesLookups(t *testing.T) {
	service := newTestService(t)
	created, err := service.Register(context.Background(), sampleRegistration("cache@example.com"))
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	email, err := service.EmailOf(context.Background(), created.ID)
	if err != nil || email != "cache@example.com" {
		t.Fatalf("unexpected lookup result %q %v", email, err)
	}
	if _, ok := service.emails.Load(created.ID); !ok {
		t.Fatalf("expected email to be cached")
	}
	if _, err := service.EmailOf(context.Background(), 9999); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
