package auth

import (
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/dcrodman/romgate/internal/core/data"
)

func setUpService(t *testing.T) *Service {
	t.Helper()

	testDBFile := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(testDBFile))
	if err != nil {
		t.Fatalf("error initializing test database: %s", err)
	}
	if err = db.AutoMigrate(&data.Account{}); err != nil {
		t.Fatalf("error auto migrating db: %s", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewService(db, logger)
}

func TestService_Register(t *testing.T) {
	s := setUpService(t)

	if err := s.Register("alice", "hunter2"); err != nil {
		t.Fatalf("Register() returned an unexpected error: %v", err)
	}

	account, err := data.FindAccountByUsername(s.db, "alice")
	if err != nil {
		t.Fatalf("error looking up created account: %v", err)
	}
	if account == nil {
		t.Fatal("Register() did not create an account")
	}
	if account.Password == "hunter2" {
		t.Error("Register() stored the password in plaintext")
	}
	if account.Password != HashPassword("hunter2") {
		t.Error("Register() stored an unexpected password hash")
	}
	if !account.LoggedIn {
		t.Error("Register() did not mark the new account logged in")
	}
}

func TestService_RegisterTakenUsername(t *testing.T) {
	s := setUpService(t)

	if err := s.Register("alice", "hunter2"); err != nil {
		t.Fatalf("Register() returned an unexpected error: %v", err)
	}
	if err := s.Register("alice", "other"); !errors.Is(err, ErrUsernameTaken) {
		t.Errorf("Register() with a taken username returned %v, want ErrUsernameTaken", err)
	}
}

func TestService_Login(t *testing.T) {
	s := setUpService(t)

	account := &data.Account{Username: "alice", Password: HashPassword("hunter2")}
	if err := data.CreateAccount(s.db, account); err != nil {
		t.Fatalf("error creating test account: %v", err)
	}

	tests := []struct {
		name     string
		username string
		password string
		want     error
	}{
		{
			name:     "valid credentials",
			username: "alice",
			password: "hunter2",
			want:     nil,
		},
		{
			name:     "account already logged in",
			username: "alice",
			password: "hunter2",
			want:     ErrAccountInUse,
		},
		{
			name:     "wrong password",
			username: "alice",
			password: "wrong",
			want:     ErrInvalidCredentials,
		},
		{
			name:     "unknown username",
			username: "bob",
			password: "hunter2",
			want:     ErrInvalidCredentials,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Login(tt.username, tt.password)
			if !errors.Is(err, tt.want) {
				t.Errorf("Login() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestService_LogoutReleasesAccount(t *testing.T) {
	s := setUpService(t)

	account := &data.Account{Username: "alice", Password: HashPassword("hunter2")}
	if err := data.CreateAccount(s.db, account); err != nil {
		t.Fatalf("error creating test account: %v", err)
	}

	if err := s.Login("alice", "hunter2"); err != nil {
		t.Fatalf("Login() returned an unexpected error: %v", err)
	}
	if err := s.Logout("alice"); err != nil {
		t.Fatalf("Logout() returned an unexpected error: %v", err)
	}
	if err := s.Login("alice", "hunter2"); err != nil {
		t.Errorf("Login() after logout returned %v, want success", err)
	}
}

func TestService_OnlineRanked(t *testing.T) {
	s := setUpService(t)

	accounts := []*data.Account{
		{Username: "alice", Password: "x", LoggedIn: true, Points: 5},
		{Username: "bob", Password: "x", LoggedIn: true, Points: 15},
		{Username: "carol", Password: "x", LoggedIn: true, Playing: true, Points: 100},
	}
	for _, account := range accounts {
		if err := data.CreateAccount(s.db, account); err != nil {
			t.Fatalf("error creating test account: %v", err)
		}
	}

	ranked, err := s.OnlineRanked()
	if err != nil {
		t.Fatalf("OnlineRanked() returned an unexpected error: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("OnlineRanked() returned %d accounts, want 2", len(ranked))
	}
	if ranked[0].Username != "bob" || ranked[1].Username != "alice" {
		t.Errorf("OnlineRanked() order = [%s, %s], want [bob, alice]",
			ranked[0].Username, ranked[1].Username)
	}
}

func TestHashPassword(t *testing.T) {
	if HashPassword("hunter2") != HashPassword("hunter2") {
		t.Error("HashPassword() is not deterministic")
	}
	if HashPassword("hunter2") == HashPassword("hunter3") {
		t.Error("HashPassword() collided for different passwords")
	}
	// sha256 hex digests are always 64 characters.
	if got := len(HashPassword("hunter2")); got != 64 {
		t.Errorf("HashPassword() digest length = %d, want 64", got)
	}
}
