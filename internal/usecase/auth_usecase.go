package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"app/internal/config"
	"app/internal/domain/model"
	repo "app/internal/repository"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"
)

// accesstokenの有効期限
const accessTokenTTL = 15 * time.Minute

// AuthUsecase は登録・ログイン・自分情報の取得。
type AuthUsecase struct {
	cfg   config.Config
	users repo.UserRepository
}

func NewAuthUsecase(cfg config.Config, users repo.UserRepository) *AuthUsecase {
	return &AuthUsecase{cfg: cfg, users: users}
}

type UserDTO struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
}

type AuthTokenDTO struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type RegisterInput struct {
	Email    string
	Password string
}

type LoginInput struct {
	Email    string
	Password string
}

type LoginOutput struct {
	User  UserDTO      `json:"user"`
	Token AuthTokenDTO `json:"token"`
}

func (u *AuthUsecase) Register(ctx context.Context, in RegisterInput) (UserDTO, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email == "" || !strings.Contains(email, "@") || len(email) > 255 {
		return UserDTO{}, NewHTTPError(http.StatusBadRequest, "invalid email")
	}
	if len(in.Password) < 8 || len(in.Password) > 72 {
		return UserDTO{}, NewHTTPError(http.StatusBadRequest, "password must be 8-72 chars")
	}

	//パスワードは必ずハッシュ化して保存（平文保存しない）
	pwHash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return UserDTO{}, NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	user := &model.User{
		Email:        email,
		PasswordHash: string(pwHash),
		Role:         model.RoleUser,
		IsActive:     true,
	}
	if err := u.users.Create(ctx, user); err != nil {
		//email重複はuniqueIndexで弾かれる
		if errors.Is(err, repo.ErrDuplicate) {
			return UserDTO{}, NewHTTPError(http.StatusConflict, "email already registered")
		}
		return UserDTO{}, NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	return toUserDTO(user), nil
}

func (u *AuthUsecase) Login(ctx context.Context, in LoginInput) (LoginOutput, error) {
	email := strings.TrimSpace(strings.ToLower(in.Email))
	if email == "" || in.Password == "" {
		return LoginOutput{}, NewHTTPError(http.StatusBadRequest, "email and password required")
	}

	user, err := u.users.FindByEmail(ctx, email)
	if err != nil || user == nil {
		//存在の有無は漏らさない
		return LoginOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if !user.IsActive {
		return LoginOutput{}, NewHTTPError(http.StatusForbidden, "forbidden")
	}

	//パスワード照合（bcrypt）
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		return LoginOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	//last_login更新（失敗してもログインは通す）
	_ = u.users.UpdateLastLogin(ctx, user.ID, time.Now())

	token, expiresIn, err := u.issueAccessToken(user)
	if err != nil {
		return LoginOutput{}, NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	return LoginOutput{
		User:  toUserDTO(user),
		Token: AuthTokenDTO{AccessToken: token, ExpiresIn: expiresIn},
	}, nil
}

func (u *AuthUsecase) Me(ctx context.Context, userID int64) (UserDTO, error) {
	if userID <= 0 {
		return UserDTO{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	user, err := u.users.FindByID(ctx, userID)
	if err != nil || user == nil {
		return UserDTO{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if !user.IsActive {
		return UserDTO{}, NewHTTPError(http.StatusForbidden, "forbidden")
	}

	return toUserDTO(user), nil
}

// jwt発行
func (u *AuthUsecase) issueAccessToken(user *model.User) (string, int, error) {
	now := time.Now()
	exp := now.Add(accessTokenTTL)

	claims := jwt.MapClaims{
		"sub":  user.ID,
		"role": string(user.Role),
		"iat":  now.Unix(),
		"exp":  exp.Unix(),
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString([]byte(u.cfg.JWTSecret))
	if err != nil {
		return "", 0, err
	}

	return signed, int(accessTokenTTL.Seconds()), nil
}

func toUserDTO(u *model.User) UserDTO {
	return UserDTO{
		ID:       u.ID,
		Email:    u.Email,
		Role:     string(u.Role),
		IsActive: u.IsActive,
	}
}
