package usecase

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"app/internal/config"
	"app/internal/domain/model"
	repo "app/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"golang.org/x/crypto/bcrypt"
)

func newAuthUsecase(users *UserRepoMock) *AuthUsecase {
	return NewAuthUsecase(config.Config{JWTSecret: "test-secret"}, users)
}

func TestAuthUsecase_Register_InvalidEmail(t *testing.T) {
	uc := newAuthUsecase(new(UserRepoMock))

	_, err := uc.Register(context.Background(), RegisterInput{Email: "not-an-email", Password: "password123"})
	assertHTTPStatus(t, err, http.StatusBadRequest)
}

func TestAuthUsecase_Register_ShortPassword(t *testing.T) {
	uc := newAuthUsecase(new(UserRepoMock))

	_, err := uc.Register(context.Background(), RegisterInput{Email: "a@example.com", Password: "short"})
	assertErrContains(t, err, "password must be 8-72 chars")
}

// メールは小文字化して保存し、パスワードはハッシュで保存する
func TestAuthUsecase_Register_Success(t *testing.T) {
	ctx := context.Background()
	users := new(UserRepoMock)
	uc := newAuthUsecase(users)

	users.On("Create", mock.Anything, mock.MatchedBy(func(u *model.User) bool {
		if u.Email != "a@example.com" || u.Role != model.RoleUser || !u.IsActive {
			return false
		}
		return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("password123")) == nil
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*model.User).ID = 1
	}).Return(nil)

	out, err := uc.Register(ctx, RegisterInput{Email: " A@Example.com ", Password: "password123"})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), out.ID)
	assert.Equal(t, "a@example.com", out.Email)

	users.AssertExpectations(t)
}

func TestAuthUsecase_Register_DuplicateEmailConflicts(t *testing.T) {
	ctx := context.Background()
	users := new(UserRepoMock)
	uc := newAuthUsecase(users)

	users.On("Create", mock.Anything, mock.Anything).Return(repo.ErrDuplicate)

	_, err := uc.Register(ctx, RegisterInput{Email: "a@example.com", Password: "password123"})
	assertHTTPStatus(t, err, http.StatusConflict)
}

// 未登録メールと誤パスワードは同じ応答（存在の有無を漏らさない）
func TestAuthUsecase_Login_UnknownEmailUnauthorized(t *testing.T) {
	ctx := context.Background()
	users := new(UserRepoMock)
	uc := newAuthUsecase(users)

	users.On("FindByEmail", mock.Anything, "a@example.com").Return(nil, errors.New("not found"))

	_, err := uc.Login(ctx, LoginInput{Email: "a@example.com", Password: "password123"})
	assertHTTPStatus(t, err, http.StatusUnauthorized)
}

func TestAuthUsecase_Login_WrongPasswordUnauthorized(t *testing.T) {
	ctx := context.Background()
	users := new(UserRepoMock)
	uc := newAuthUsecase(users)

	hash, _ := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	users.On("FindByEmail", mock.Anything, "a@example.com").Return(&model.User{
		ID: 1, Email: "a@example.com", PasswordHash: string(hash), Role: model.RoleUser, IsActive: true,
	}, nil)

	_, err := uc.Login(ctx, LoginInput{Email: "a@example.com", Password: "wrong-password"})
	assertHTTPStatus(t, err, http.StatusUnauthorized)
}

func TestAuthUsecase_Login_InactiveUserForbidden(t *testing.T) {
	ctx := context.Background()
	users := new(UserRepoMock)
	uc := newAuthUsecase(users)

	users.On("FindByEmail", mock.Anything, "a@example.com").Return(&model.User{
		ID: 1, Email: "a@example.com", IsActive: false,
	}, nil)

	_, err := uc.Login(ctx, LoginInput{Email: "a@example.com", Password: "password123"})
	assertHTTPStatus(t, err, http.StatusForbidden)
}

func TestAuthUsecase_Login_Success(t *testing.T) {
	ctx := context.Background()
	users := new(UserRepoMock)
	uc := newAuthUsecase(users)

	hash, _ := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	users.On("FindByEmail", mock.Anything, "a@example.com").Return(&model.User{
		ID: 1, Email: "a@example.com", PasswordHash: string(hash), Role: model.RoleUser, IsActive: true,
	}, nil)
	users.On("UpdateLastLogin", mock.Anything, int64(1), mock.Anything).Return(nil)

	out, err := uc.Login(ctx, LoginInput{Email: "A@example.com", Password: "password123"})
	assert.NoError(t, err)
	assert.Equal(t, int64(1), out.User.ID)
	assert.NotEmpty(t, out.Token.AccessToken)
	assert.Equal(t, int(accessTokenTTL.Seconds()), out.Token.ExpiresIn)

	users.AssertExpectations(t)
}

func TestAuthUsecase_Me_Success(t *testing.T) {
	ctx := context.Background()
	users := new(UserRepoMock)
	uc := newAuthUsecase(users)

	users.On("FindByID", mock.Anything, int64(1)).Return(&model.User{
		ID: 1, Email: "a@example.com", Role: model.RoleUser, IsActive: true,
	}, nil)

	out, err := uc.Me(ctx, 1)
	assert.NoError(t, err)
	assert.Equal(t, "a@example.com", out.Email)
}
