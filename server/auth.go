package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Auth 身份协作方：注册 / 登录 / 令牌签发与校验
// 令牌为 HS256 JWT，sub 存用户 ID；无状态登出（客户端丢弃令牌即可）
type Auth struct {
	store  *Store
	secret []byte
	ttl    time.Duration
}

// NewAuth 创建身份服务
func NewAuth(store *Store, secret string, ttl time.Duration) *Auth {
	return &Auth{store: store, secret: []byte(secret), ttl: ttl}
}

// Register 创建用户；用户名已存在时返回 ErrDuplicate
func (a *Auth) Register(ctx context.Context, name, password string) (*User, error) {
	if name == "" || password == "" {
		return nil, fmt.Errorf("name and password are required: %w", ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := User{
		ID:           UserID(uuid.NewString()),
		Name:         name,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Login 校验口令并签发令牌
// 用户不存在与口令错误统一返回 ErrUnauthorized，不向调用方泄露区别
func (a *Auth) Login(ctx context.Context, name, password string) (string, *User, error) {
	if name == "" || password == "" {
		return "", nil, fmt.Errorf("name and password are required: %w", ErrValidation)
	}
	u, err := a.store.GetUserByName(ctx, name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil, fmt.Errorf("invalid credentials: %w", ErrUnauthorized)
		}
		return "", nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", nil, fmt.Errorf("invalid credentials: %w", ErrUnauthorized)
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   string(u.ID),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return token, u, nil
}

// Verify 校验令牌并加载用户，成功时返回 (userId, displayName)
// 任何解析 / 过期 / 用户缺失问题都归为 ErrUnauthorized
func (a *Auth) Verify(ctx context.Context, token string) (UserID, string, error) {
	if token == "" {
		return "", "", fmt.Errorf("authentication required: %w", ErrUnauthorized)
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", "", fmt.Errorf("invalid token: %w", ErrUnauthorized)
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", "", fmt.Errorf("invalid token subject: %w", ErrUnauthorized)
	}
	u, err := a.store.GetUser(ctx, UserID(sub))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", "", fmt.Errorf("user not found: %w", ErrUnauthorized)
		}
		return "", "", err
	}
	return u.ID, u.Name, nil
}
