package users

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

const (
	// StatusActive marks an account that may sign in.
	StatusActive int16 = 1
)

// User is a registered account. Email is stored lower-cased and is the key
// other packages use to refer to a person.
type User struct {
	ID           uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	UserID       string    `gorm:"column:user_id;size:50;not null;uniqueIndex"`
	UserName     string    `gorm:"column:user_name;size:50"`
	RealName     string    `gorm:"column:real_name;size:100"`
	NameKana     string    `gorm:"column:name_kana;size:100"`
	Email        string    `gorm:"column:email;size:120;not null;uniqueIndex"`
	Phone        string    `gorm:"column:phone;size:20"`
	PasswordHash string    `gorm:"column:password_hash;size:255;not null"`
	ProfileImage string    `gorm:"column:profile_image;size:255"`
	Bio          string    `gorm:"column:bio;size:1000"`
	Address      string    `gorm:"column:address;size:255"`
	BirthDate    string    `gorm:"column:birth_date;size:20"`
	Status       int16     `gorm:"column:status;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null"`
}

// TableName exposes the table backing accounts.
func (User) TableName() string {
	return "users"
}

// DisplayName falls back to the external id when no user name was set.
func (u User) DisplayName() string {
	if strings.TrimSpace(u.UserName) != "" {
		return u.UserName
	}
	return u.UserID
}

// NormalizeEmail trims and lower-cases an address so every lookup compares
// the same canonical form.
func NormalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

// Lookup loads a user by internal id through db, which may be a transaction.
func Lookup(db *gorm.DB, id uint64) (User, error) {
	var user User
	err := db.Where("id = ?", id).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	return user, err
}

// LookupByEmail loads a user by normalized email through db.
func LookupByEmail(db *gorm.DB, email string) (User, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return User{}, ErrUserNotFound
	}
	var user User
	err := db.Where("email = ?", normalized).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	return user, err
}

// IDsForEmails resolves internal ids for the given addresses; unknown
// addresses are skipped.
func IDsForEmails(db *gorm.DB, emails []string) ([]uint64, error) {
	if len(emails) == 0 {
		return nil, nil
	}
	var ids []uint64
	err := db.Model(&User{}).Where("email IN ?", emails).Pluck("id", &ids).Error
	return ids, err
}
