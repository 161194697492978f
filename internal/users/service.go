package users

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/bibli/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/bibli/backend/internal/failure"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	operationRegister      = "users.register"
	operationAuthenticate  = "users.authenticate"
	operationUpdateProfile = "users.update_profile"

	minPasswordLength  = 6
	maxBioLength       = 120
	maxUserNameLength  = 50
	maxUserIDBase      = 40
	maxUserIDAttempts  = 1000
	fallbackUserIDBase = "user"
)

var (
	// ErrEmailTaken reports a registration for an address that already has an account.
	ErrEmailTaken = fmt.Errorf("%w: email already registered", failure.ErrConflict)
	// ErrInvalidCredentials reports a failed login without revealing which half was wrong.
	ErrInvalidCredentials = fmt.Errorf("%w: email or password is incorrect", failure.ErrUnauthorized)
	// ErrUserNotFound reports an unknown account.
	ErrUserNotFound = fmt.Errorf("%w: user not found", failure.ErrNotFound)

	userIDUnsafeCharacters = regexp.MustCompile(`[^a-z0-9._-]+`)
)

// ServiceConfig describes the dependencies required by the account service.
type ServiceConfig struct {
	Database *gorm.DB
	Hasher   *auth.PasswordHasher
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service registers accounts, checks credentials and maintains profiles.
type Service struct {
	db     *gorm.DB
	hasher *auth.PasswordHasher
	now    func() time.Time
	logger *zap.Logger
	emails sync.Map
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if cfg.Hasher == nil {
		return nil, fmt.Errorf("users: password hasher required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		hasher: cfg.Hasher,
		now:    clock,
		logger: logger,
	}, nil
}

// Registration carries the sign-up form.
type Registration struct {
	UserName     string
	Email        string
	Password     string
	Address      string
	Phone        string
	RealName     string
	NameKana     string
	BirthDate    string
	Bio          string
	ProfileImage string
}

func (r Registration) normalized() (Registration, error) {
	r.UserName = strings.TrimSpace(r.UserName)
	r.Email = NormalizeEmail(r.Email)
	r.Address = strings.TrimSpace(r.Address)
	r.Phone = strings.TrimSpace(r.Phone)
	r.RealName = strings.TrimSpace(r.RealName)
	r.NameKana = strings.TrimSpace(r.NameKana)
	r.BirthDate = strings.TrimSpace(r.BirthDate)
	r.Bio = strings.TrimSpace(r.Bio)
	r.ProfileImage = strings.TrimSpace(r.ProfileImage)

	required := []struct {
		field string
		value string
	}{
		{"user_name", r.UserName},
		{"email", r.Email},
		{"password", r.Password},
		{"address", r.Address},
		{"phone", r.Phone},
		{"real_name", r.RealName},
		{"name_kana", r.NameKana},
		{"birth_date", r.BirthDate},
	}
	for _, entry := range required {
		if entry.value == "" {
			return Registration{}, failure.Invalid(entry.field, "is required")
		}
	}
	if !strings.Contains(r.Email, "@") {
		return Registration{}, failure.Invalid("email", "is malformed")
	}
	if utf8.RuneCountInString(r.Password) < minPasswordLength {
		return Registration{}, failure.Invalid("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}
	if utf8.RuneCountInString(r.UserName) > maxUserNameLength {
		return Registration{}, failure.Invalid("user_name", fmt.Sprintf("must be at most %d characters", maxUserNameLength))
	}
	if utf8.RuneCountInString(r.Bio) > maxBioLength {
		return Registration{}, failure.Invalid("bio", fmt.Sprintf("must be at most %d characters", maxBioLength))
	}
	return r, nil
}

// Register creates an account. The external user id is derived from the
// email local part and suffixed until unique.
func (s *Service) Register(ctx context.Context, registration Registration) (User, error) {
	form, err := registration.normalized()
	if err != nil {
		return User{}, err
	}

	hash, err := s.hasher.Hash(form.Password)
	if err != nil {
		s.logError(operationRegister, "hash_failed", err)
		return User{}, failure.Wrap(operationRegister, "hash_failed", err)
	}

	now := s.now().UTC()
	var created User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&User{}).Where("email = ?", form.Email).Count(&existing).Error; err != nil {
			return failure.Wrap(operationRegister, "email_lookup_failed", err)
		}
		if existing > 0 {
			return ErrEmailTaken
		}

		externalID, err := allocateUserID(tx, form.Email)
		if err != nil {
			return failure.Wrap(operationRegister, "user_id_allocation_failed", err)
		}

		created = User{
			UserID:       externalID,
			UserName:     form.UserName,
			RealName:     form.RealName,
			NameKana:     form.NameKana,
			Email:        form.Email,
			Phone:        form.Phone,
			PasswordHash: hash,
			ProfileImage: form.ProfileImage,
			Bio:          form.Bio,
			Address:      form.Address,
			BirthDate:    form.BirthDate,
			Status:       StatusActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.Create(&created).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrEmailTaken
			}
			return failure.Wrap(operationRegister, "insert_failed", err)
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrEmailTaken) {
			s.logError(operationRegister, "transaction_failed", err, zap.String("email", form.Email))
		}
		return User{}, err
	}
	return created, nil
}

// Authenticate returns the account when the password matches its stored hash.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	normalized := NormalizeEmail(email)
	if normalized == "" {
		return User{}, failure.Invalid("email", "is required")
	}
	if password == "" {
		return User{}, failure.Invalid("password", "is required")
	}

	user, err := LookupByEmail(s.db.WithContext(ctx), normalized)
	if errors.Is(err, ErrUserNotFound) {
		return User{}, ErrInvalidCredentials
	}
	if err != nil {
		s.logError(operationAuthenticate, "lookup_failed", err)
		return User{}, failure.Wrap(operationAuthenticate, "lookup_failed", err)
	}
	if !s.hasher.Verify(user.PasswordHash, password) {
		return User{}, ErrInvalidCredentials
	}
	return user, nil
}

// FindByID loads an account by internal id.
func (s *Service) FindByID(ctx context.Context, id uint64) (User, error) {
	return Lookup(s.db.WithContext(ctx), id)
}

// FindByEmail loads an account by email.
func (s *Service) FindByEmail(ctx context.Context, email string) (User, error) {
	return LookupByEmail(s.db.WithContext(ctx), email)
}

// FindByUserID loads an account by its public external id.
func (s *Service) FindByUserID(ctx context.Context, externalID string) (User, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return User{}, ErrUserNotFound
	}
	var user User
	err := s.db.WithContext(ctx).Where("user_id = ?", externalID).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	return user, err
}

// EmailOf resolves the email for an internal id. Emails never change, so
// resolved values are cached for the life of the service.
func (s *Service) EmailOf(ctx context.Context, id uint64) (string, error) {
	if cached, ok := s.emails.Load(id); ok {
		if email, ok := cached.(string); ok {
			return email, nil
		}
	}
	user, err := s.FindByID(ctx, id)
	if err != nil {
		return "", err
	}
	s.emails.Store(id, user.Email)
	return user.Email, nil
}

// FindByEmails loads the accounts for the given addresses keyed by email.
func (s *Service) FindByEmails(ctx context.Context, emails []string) (map[string]User, error) {
	result := make(map[string]User, len(emails))
	if len(emails) == 0 {
		return result, nil
	}
	var found []User
	if err := s.db.WithContext(ctx).Where("email IN ?", emails).Find(&found).Error; err != nil {
		return nil, err
	}
	for _, user := range found {
		result[user.Email] = user
	}
	return result, nil
}

// ProfileUpdate lists the fields a profile edit may change; nil means unchanged.
type ProfileUpdate struct {
	UserName     *string
	RealName     *string
	NameKana     *string
	Phone        *string
	Address      *string
	BirthDate    *string
	Bio          *string
	ProfileImage *string
	Password     *string
}

// UpdateProfile applies a partial update to the account owning email.
func (s *Service) UpdateProfile(ctx context.Context, email string, update ProfileUpdate) (User, error) {
	updates := map[string]interface{}{}
	assign := func(column string, value *string) {
		if value != nil {
			updates[column] = strings.TrimSpace(*value)
		}
	}
	assign("user_name", update.UserName)
	assign("real_name", update.RealName)
	assign("name_kana", update.NameKana)
	assign("phone", update.Phone)
	assign("address", update.Address)
	assign("birth_date", update.BirthDate)
	assign("bio", update.Bio)
	assign("profile_image", update.ProfileImage)

	if name, ok := updates["user_name"].(string); ok {
		if name == "" {
			return User{}, failure.Invalid("user_name", "must not be empty")
		}
		if utf8.RuneCountInString(name) > maxUserNameLength {
			return User{}, failure.Invalid("user_name", fmt.Sprintf("must be at most %d characters", maxUserNameLength))
		}
	}
	if bio, ok := updates["bio"].(string); ok && utf8.RuneCountInString(bio) > maxBioLength {
		return User{}, failure.Invalid("bio", fmt.Sprintf("must be at most %d characters", maxBioLength))
	}
	if update.Password != nil && *update.Password != "" {
		if utf8.RuneCountInString(*update.Password) < minPasswordLength {
			return User{}, failure.Invalid("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
		}
		hash, err := s.hasher.Hash(*update.Password)
		if err != nil {
			return User{}, failure.Wrap(operationUpdateProfile, "hash_failed", err)
		}
		updates["password_hash"] = hash
	}
	updates["updated_at"] = s.now().UTC()

	var updated User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := LookupByEmail(tx, email)
		if err != nil {
			return err
		}
		if err := tx.Model(&User{}).Where("id = ?", user.ID).Updates(updates).Error; err != nil {
			return failure.Wrap(operationUpdateProfile, "update_failed", err)
		}
		updated, err = Lookup(tx, user.ID)
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			s.logError(operationUpdateProfile, "transaction_failed", err)
		}
		return User{}, err
	}
	return updated, nil
}

// SetProfileImage stores a new avatar URL for the account.
func (s *Service) SetProfileImage(ctx context.Context, email, imageURL string) (User, error) {
	return s.UpdateProfile(ctx, email, ProfileUpdate{ProfileImage: &imageURL})
}

func allocateUserID(tx *gorm.DB, email string) (string, error) {
	base := email
	if at := strings.Index(base, "@"); at >= 0 {
		base = base[:at]
	}
	base = strings.Trim(userIDUnsafeCharacters.ReplaceAllString(strings.ToLower(base), ""), ".-_")
	if base == "" {
		base = fallbackUserIDBase
	}
	if len(base) > maxUserIDBase {
		base = base[:maxUserIDBase]
	}

	candidate := base
	for attempt := 2; attempt <= maxUserIDAttempts+1; attempt++ {
		var taken int64
		if err := tx.Model(&User{}).Where("user_id = ?", candidate).Count(&taken).Error; err != nil {
			return "", err
		}
		if taken == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, attempt)
	}
	return "", fmt.Errorf("no free user id for %q", base)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	failure.LogError(s.logger, "user service failure", operation, reason, err, fields...)
}
