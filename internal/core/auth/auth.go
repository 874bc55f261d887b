// Package auth implements the account operations invoked by the session
// dispatcher: registration, login/logout, and the ranked online list.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/dcrodman/romgate/internal/core/data"
)

var (
	ErrUnknown            = errors.New("an unexpected error occurred, please contact your server administrator")
	ErrInvalidCredentials = errors.New("username/password combination not found")
	ErrUsernameTaken      = errors.New("that username is already taken")
	ErrAccountInUse       = errors.New("this account is already logged in")
)

// Service exposes the account store operations to the rest of the server.
type Service struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewService(db *gorm.DB, logger *logrus.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Register creates a new account and, like the launcher expects, immediately
// treats it as logged in.
func (s *Service) Register(username, password string) error {
	existing, err := data.FindAccountByUsername(s.db, username)
	if err != nil {
		s.logger.Warnf("error looking up account %s: %s", username, err)
		return ErrUnknown
	}
	if existing != nil {
		return ErrUsernameTaken
	}

	account := &data.Account{
		Username:         username,
		Password:         HashPassword(password),
		RegistrationDate: time.Now(),
		LoggedIn:         true,
	}
	if err := data.CreateAccount(s.db, account); err != nil {
		// The unique index decides races between concurrent registrations
		// of the same name; the loser lands here.
		if existing, ferr := data.FindAccountByUsername(s.db, username); ferr == nil && existing != nil {
			return ErrUsernameTaken
		}
		s.logger.Warnf("error creating account %s: %s", username, err)
		return ErrUnknown
	}
	return nil
}

// Login validates the credentials and claims the account's session slot.
// An account that is already logged in elsewhere cannot be claimed again
// until it logs out.
func (s *Service) Login(username, password string) error {
	account, err := data.FindAccountByUsername(s.db, username)
	if err != nil {
		s.logger.Warnf("error looking up account %s: %s", username, err)
		return ErrUnknown
	}
	if account == nil || account.Password != HashPassword(password) {
		return ErrInvalidCredentials
	}

	won, err := data.MarkLoggedIn(s.db, username)
	if err != nil {
		s.logger.Warnf("error marking %s logged in: %s", username, err)
		return ErrUnknown
	}
	if !won {
		return ErrAccountInUse
	}
	return nil
}

// Logout releases the account's session slot and clears its playing flag.
func (s *Service) Logout(username string) error {
	if err := data.MarkLoggedOut(s.db, username); err != nil {
		s.logger.Warnf("error logging out %s: %s", username, err)
		return ErrUnknown
	}
	return nil
}

// SetPlaying updates the playing flag, which controls whether the account
// appears in the ranked online list.
func (s *Service) SetPlaying(username string, playing bool) error {
	if err := data.SetPlaying(s.db, username, playing); err != nil {
		s.logger.Warnf("error updating playing flag for %s: %s", username, err)
		return ErrUnknown
	}
	return nil
}

// OnlineRanked returns the logged-in, non-playing accounts ordered by points.
func (s *Service) OnlineRanked() ([]data.Account, error) {
	accounts, err := data.OnlineRankedAccounts(s.db)
	if err != nil {
		s.logger.Warnf("error fetching online accounts: %s", err)
		return nil, ErrUnknown
	}
	return accounts, nil
}

// HashPassword returns a version of password with romgate's chosen hashing strategy.
func HashPassword(password string) string {
	hash := sha256.New()
	hash.Write([]byte(password))
	return hex.EncodeToString(hash.Sum(nil))
}
