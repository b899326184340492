package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"social-chat/internal/config"
	"social-chat/internal/database"
	"social-chat/internal/models"
	"social-chat/mocks"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"
)

const secret = "test-secret-of-sufficient-length"

func newService(t *testing.T) *Service {
	t.Helper()
	db, err := database.NewBadgerDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewService(db, config.JWTConfig{Secret: secret, ExpiresIn: time.Hour})
}

func TestService_Register_Then_Login(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	service := newService(t)

	registered, err := service.Register(ctx, &models.RegisterRequest{
		Username: "  alice ",
		Email:    "alice@example.com",
		Password: "correct horse",
	})
	req.NoError(err)
	req.Equal("alice", registered.User.Username)
	req.Empty(registered.User.PasswordHash)

	userID, err := service.UserIDFromToken(ctx, registered.Token)
	req.NoError(err)
	req.Equal(registered.User.ID, userID)

	loggedIn, err := service.Login(ctx, &models.LoginRequest{Email: "alice@example.com", Password: "correct horse"})
	req.NoError(err)
	req.Equal(registered.User.ID, loggedIn.User.ID)

	_, err = service.Login(ctx, &models.LoginRequest{Email: "alice@example.com", Password: "wrong password"})
	req.ErrorIs(err, ErrInvalidCredentials)
}

func TestService_Register_Validates_Input(t *testing.T) {
	req := require.New(t)
	service := newService(t)

	_, err := service.Register(context.Background(), &models.RegisterRequest{Username: "al", Email: "alice@example.com", Password: "correct horse"})
	req.Error(err)
	_, err = service.Register(context.Background(), &models.RegisterRequest{Username: "alice", Email: "not-an-email", Password: "correct horse"})
	req.Error(err)
	_, err = service.Register(context.Background(), &models.RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "short"})
	req.Error(err)
}

func TestService_Register_Duplicate_Email(t *testing.T) {
	req := require.New(t)
	service := newService(t)
	ctx := context.Background()

	_, err := service.Register(ctx, &models.RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "correct horse"})
	req.NoError(err)
	_, err = service.Register(ctx, &models.RegisterRequest{Username: "alice2", Email: "alice@example.com", Password: "correct horse"})
	req.ErrorIs(err, database.ErrUserExists)
}

func TestService_UserIDFromToken_Rejects_Bad_Tokens(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	service := newService(t)

	// Expired
	service.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := service.GenerateToken(&models.User{ID: "alice"})
	req.NoError(err)
	service.now = time.Now
	_, err = service.UserIDFromToken(ctx, expired)
	req.ErrorIs(err, ErrInvalidToken)

	// Signed with another key
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "alice",
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("another-secret-entirely"))
	req.NoError(err)
	_, err = service.UserIDFromToken(ctx, forged)
	req.ErrorIs(err, ErrInvalidToken)

	// Valid signature, unknown account
	ghost, err := service.GenerateToken(&models.User{ID: "ghost"})
	req.NoError(err)
	_, err = service.UserIDFromToken(ctx, ghost)
	req.ErrorIs(err, ErrInvalidToken)

	_, err = service.UserIDFromToken(ctx, "garbage")
	req.ErrorIs(err, ErrInvalidToken)
}

func TestService_With_Repository_Mock(t *testing.T) {
	ctrl := gomock.NewController(t)
	users := mocks.NewMockUserRepository(ctrl)
	service := NewService(users, config.JWTConfig{Secret: secret, ExpiresIn: time.Hour})
	ctx := context.Background()

	t.Run("should hash the password before storing it", func(t *testing.T) {
		req := require.New(t)

		users.EXPECT().
			CreateUser(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, user *models.User) (*models.User, error) {
				req.NoError(bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("correct horse")))
				return &models.User{ID: "u-1", Username: user.Username, Email: user.Email, PasswordHash: user.PasswordHash}, nil
			}).
			Times(1)

		resp, err := service.Register(ctx, &models.RegisterRequest{Username: "bob", Email: "bob@example.com", Password: "correct horse"})

		req.NoError(err)
		req.Equal("u-1", resp.User.ID)
		req.Empty(resp.User.PasswordHash)
	})

	t.Run("should not touch the repository when input is invalid", func(t *testing.T) {
		req := require.New(t)

		users.EXPECT().CreateUser(gomock.Any(), gomock.Any()).Times(0)

		_, err := service.Register(ctx, &models.RegisterRequest{Username: "bob", Email: "nope", Password: "correct horse"})

		req.Error(err)
	})

	t.Run("should surface lookup failures as non token errors", func(t *testing.T) {
		req := require.New(t)
		token, err := service.GenerateToken(&models.User{ID: "u-1", Username: "bob"})
		req.NoError(err)

		users.EXPECT().UserExists(gomock.Any(), "u-1").Return(false, errors.New("connection refused"))

		_, err = service.UserIDFromToken(ctx, token)

		req.Error(err)
		req.NotErrorIs(err, ErrInvalidToken)
	})

	t.Run("should hide missing accounts behind invalid credentials", func(t *testing.T) {
		req := require.New(t)

		users.EXPECT().GetUserByEmail(gomock.Any(), "ghost@example.com").Return(nil, database.ErrUserNotFound)

		_, err := service.Login(ctx, &models.LoginRequest{Email: "ghost@example.com", Password: "whatever"})

		req.ErrorIs(err, ErrInvalidCredentials)
	})
}
