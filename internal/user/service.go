package user

import (
	"collaborative-office-suite/internal/auth"
	"collaborative-office-suite/internal/errors"
	"collaborative-office-suite/internal/store"
	"context"
	defError "errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Service is the identity provider.
type Service interface {
	SignUp(ctx context.Context, email, password, displayName string) (*AuthResult, error)
	SignIn(ctx context.Context, email, password string) (*AuthResult, error)
	SignOut(ctx context.Context, userID string) error
	Reauthenticate(ctx context.Context, userID, password string) (*AuthResult, error)
	UpdateProfile(ctx context.Context, userID string, authTime time.Time, displayName string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	IdentityForToken(ctx context.Context, data auth.TokenData) (*store.Identity, error)
	OnAuthStateChange(ctx context.Context, userID string) <-chan *store.Identity
}

// DefaultService implements Service
type DefaultService struct {
	repository       UserRepository
	recentAuthWindow time.Duration
	log              *zap.Logger
	now              func() time.Time

	mu       sync.Mutex
	watchers map[string]map[chan *store.Identity]struct{}
}

// NewService creates a new user service
func NewService(repository UserRepository, recentAuthWindow time.Duration, log *zap.Logger) *DefaultService {
	return &DefaultService{
		repository:       repository,
		recentAuthWindow: recentAuthWindow,
		log:              log,
		now:              time.Now,
		watchers:         make(map[string]map[chan *store.Identity]struct{}),
	}
}

func (s *DefaultService) SignUp(ctx context.Context, email, password, displayName string) (*AuthResult, error) {
	email = normalizeEmail(email)

	// Check if user with email already exists
	_, err := s.repository.FindByEmail(ctx, email)
	if err != nil && !defError.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if err == nil {
		return nil, errors.ValidationConflict("Email already registered", nil)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.InvalidInput("Password can't be used", err)
	}

	user := &User{
		ID:           uuid.NewString(),
		DisplayName:  strings.TrimSpace(displayName),
		Email:        email,
		PasswordHash: string(hashedPassword),
	}
	if err := s.repository.Create(ctx, user); err != nil {
		if defError.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errors.ValidationConflict("Email already registered", err)
		}
		return nil, err
	}

	s.log.Info("user signed up", zap.String("user_id", user.ID))
	return s.issue(user)
}

func (s *DefaultService) SignIn(ctx context.Context, email, password string) (*AuthResult, error) {
	user, err := s.checkPassword(func() (*User, error) {
		return s.repository.FindByEmail(ctx, normalizeEmail(email))
	}, password)
	if err != nil {
		return nil, err
	}

	result, err := s.issue(user)
	if err != nil {
		return nil, err
	}
	s.notify(user.ID, user)
	return result, nil
}

// SignOut revokes every token of the user, on every device, and tells watchers.
func (s *DefaultService) SignOut(ctx context.Context, userID string) error {
	if err := s.repository.IncreaseTokenVersion(ctx, userID); err != nil {
		return err
	}
	s.notify(userID, nil)
	return nil
}

func (s *DefaultService) Reauthenticate(ctx context.Context, userID, password string) (*AuthResult, error) {
	user, err := s.checkPassword(func() (*User, error) {
		return s.repository.FindByID(ctx, userID)
	}, password)
	if err != nil {
		return nil, err
	}
	return s.issue(user)
}

// UpdateProfile requires a sign-in no older than the recent auth window.
func (s *DefaultService) UpdateProfile(ctx context.Context, userID string, authTime time.Time, displayName string) (*User, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, errors.InvalidInput("Display name can't be empty", nil)
	}
	if s.now().Sub(authTime) > s.recentAuthWindow {
		return nil, errors.AuthRequired("This operation requires a recent login", nil)
	}

	if err := s.repository.UpdateDisplayName(ctx, userID, displayName); err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound("User not found", err)
		}
		return nil, err
	}

	user, err := s.repository.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.notify(userID, user)
	return user, nil
}

func (s *DefaultService) GetUserByID(ctx context.Context, id string) (*User, error) {
	user, err := s.repository.FindByID(ctx, id)
	if err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound("User not found", err)
		}
		return nil, err
	}
	return user, nil
}

func (s *DefaultService) IdentityForToken(ctx context.Context, data auth.TokenData) (*store.Identity, error) {
	user, err := s.repository.FindByID(ctx, data.UserID)
	if err != nil {
		return nil, errors.Unauthorized("Invalid User ID!", err)
	}
	if user.TokenVersion != data.TokenVersion {
		return nil, errors.Unauthorized("Invalid token version!", nil)
	}
	identity := user.Identity()
	return &identity, nil
}

// OnAuthStateChange delivers the user's identity now and again after every
// sign-in, profile change and sign-out (nil). Only the latest state is kept
// for a slow reader. The channel closes when ctx is done.
func (s *DefaultService) OnAuthStateChange(ctx context.Context, userID string) <-chan *store.Identity {
	ch := make(chan *store.Identity, 1)

	var current *store.Identity
	if user, err := s.repository.FindByID(ctx, userID); err == nil {
		identity := user.Identity()
		current = &identity
	}
	ch <- current

	s.mu.Lock()
	if s.watchers[userID] == nil {
		s.watchers[userID] = make(map[chan *store.Identity]struct{})
	}
	s.watchers[userID][ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers[userID], ch)
		if len(s.watchers[userID]) == 0 {
			delete(s.watchers, userID)
		}
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

func (s *DefaultService) notify(userID string, user *User) {
	var identity *store.Identity
	if user != nil {
		id := user.Identity()
		identity = &id
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.watchers[userID] {
		select {
		case <-ch:
		default:
		}
		ch <- identity
	}
}

func (s *DefaultService) checkPassword(find func() (*User, error), password string) (*User, error) {
	user, err := find()
	if err != nil {
		if defError.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Unauthorized("Invalid email or password", err)
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, errors.Unauthorized("Invalid email or password", err)
	}
	return user, nil
}

func (s *DefaultService) issue(user *User) (*AuthResult, error) {
	token, err := auth.GenerateAccessToken(user.ID, user.TokenVersion, s.now())
	if err != nil {
		return nil, errors.Internal(err)
	}
	return &AuthResult{User: user, AccessToken: token}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
