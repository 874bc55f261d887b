// Package data implements the account store backing registration, login, and
// the ranked online list.
package data

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// Account contains the login information specific to each registered user.
type Account struct {
	ID               uint64 `gorm:"primaryKey"`
	Username         string `gorm:"uniqueIndex; not null"`
	Password         string `gorm:"not null"`
	RegistrationDate time.Time
	// LoggedIn marks accounts with a live authenticated session.
	LoggedIn bool `gorm:"default:false"`
	// Playing marks accounts currently running a game; they drop out of
	// the ranked online list until they return to the menu.
	Playing bool `gorm:"default:false"`
	Points  int  `gorm:"default:0"`
}

// FindAccountByUsername searches for an account with the specified username,
// returning the *Account instance if found or nil if there is no match.
func FindAccountByUsername(db *gorm.DB, username string) (*Account, error) {
	var account Account
	err := db.Where("username = ?", username).First(&account).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &account, nil
}

// CreateAccount persists the Account record to the database. The unique
// index on username makes concurrent creations of the same name fail for
// all but one caller.
func CreateAccount(db *gorm.DB, account *Account) error {
	return db.Create(account).Error
}

// DeleteAccount permanently deletes an Account record from the database.
func DeleteAccount(db *gorm.DB, account *Account) error {
	return db.Unscoped().Delete(account).Error
}

// MarkLoggedIn flips the logged_in flag for username, but only if it isn't
// already set. Returns whether this caller won the flip, which is what makes
// concurrent logins of the same account admit at most one winner.
func MarkLoggedIn(db *gorm.DB, username string) (bool, error) {
	result := db.Model(&Account{}).
		Where("username = ? AND logged_in = ?", username, false).
		Update("logged_in", true)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// MarkLoggedOut clears the logged_in and playing flags for username.
func MarkLoggedOut(db *gorm.DB, username string) error {
	return db.Model(&Account{}).
		Where("username = ?", username).
		Updates(map[string]interface{}{"logged_in": false, "playing": false}).Error
}

// SetPlaying updates the playing flag for username.
func SetPlaying(db *gorm.DB, username string, playing bool) error {
	return db.Model(&Account{}).
		Where("username = ?", username).
		Update("playing", playing).Error
}

// SetPoints updates the points total for username.
func SetPoints(db *gorm.DB, username string, points int) error {
	return db.Model(&Account{}).
		Where("username = ?", username).
		Update("points", points).Error
}

// OnlineRankedAccounts returns the accounts that are logged in and not
// currently playing, ordered by points descending. This is the source of the
// online list broadcast.
func OnlineRankedAccounts(db *gorm.DB) ([]Account, error) {
	var accounts []Account
	err := db.Where("logged_in = ? AND playing = ?", true, false).
		Order("points desc").
		Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

// ResetPresence clears the logged_in and playing flags on every account.
// Run at startup so sessions orphaned by a crash don't block re-login.
func ResetPresence(db *gorm.DB) error {
	return db.Model(&Account{}).
		Where("logged_in = ? OR playing = ?", true, true).
		Updates(map[string]interface{}{"logged_in": false, "playing": false}).Error
}
