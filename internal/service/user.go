package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JhonHurtado/chat-in-real-time/internal/auth"
	"github.com/JhonHurtado/chat-in-real-time/internal/config"
	"github.com/JhonHurtado/chat-in-real-time/internal/models"

	"gorm.io/gorm"
)

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)

const (
	minPasswordLen  = 6
	maxDisplayName  = 50
	minSearchLength = 2
	searchLimit     = 20
)

// UserService 封装注册、登录、token 刷新与用户搜索。
type UserService struct {
	store UserStore
	cfg   config.Config
}

func NewUserService(store UserStore, cfg config.Config) *UserService {
	return &UserService{store: store, cfg: cfg}
}

// Register 注册新用户。用户名统一转为小写保存。
func (s *UserService) Register(ctx context.Context, username, password, displayName string) (*models.User, error) {
	if !usernameRe.MatchString(username) {
		return nil, Validation("username must be 3-20 characters of letters, digits or underscore")
	}
	if len(password) < minPasswordLen {
		return nil, Validation("password must be at least 6 characters")
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" || utf8.RuneCountInString(displayName) > maxDisplayName {
		return nil, Validation("display name must be 1-50 characters")
	}
	username = strings.ToLower(username)

	existing, err := s.store.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, Persistence("find user", err)
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	user := models.User{
		Username:     username,
		PasswordHash: hash,
		DisplayName:  displayName,
		LastSeen:     time.Now(),
	}
	if err := s.store.CreateUser(ctx, &user); err != nil {
		// 并发注册同名用户时由唯一索引兜底
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUsernameTaken
		}
		return nil, Persistence("create user", err)
	}
	return &user, nil
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         models.User `json:"user"`
}

// Login 校验用户名密码并签发 token 对，同时刷新 last_seen。
func (s *UserService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.store.FindUserByUsername(ctx, strings.ToLower(username))
	if err != nil {
		return nil, Persistence("find user", err)
	}
	if user == nil || !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	at, rt, err := s.issueTokens(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateLastSeen(ctx, user.ID); err != nil {
		return nil, Persistence("update last seen", err)
	}
	user.LastSeen = time.Now()
	return &LoginResult{AccessToken: at, RefreshToken: rt, User: *user}, nil
}

func (s *UserService) issueTokens(ctx context.Context, userID uint) (string, string, error) {
	at, err := auth.GenerateAccessToken(userID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return "", "", err
	}
	rt, err := auth.GenerateRefreshToken()
	if err != nil {
		return "", "", err
	}
	if err := s.store.SaveRefreshToken(ctx, userID, rt, s.refreshExpiry()); err != nil {
		return "", "", Persistence("save refresh token", err)
	}
	return at, rt, nil
}

func (s *UserService) refreshExpiry() time.Time {
	return time.Now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
}

// RefreshResult 刷新 token 后返回的新 token 对。
type RefreshResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshTokens 验证旧 refresh token 并签发新 token 对（旋转刷新）。
func (s *UserService) RefreshTokens(ctx context.Context, oldRT string) (*RefreshResult, error) {
	if oldRT == "" {
		return nil, ErrInvalidCredentials
	}
	newRT, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	userID, err := s.store.RotateRefreshToken(ctx, oldRT, newRT, s.refreshExpiry())
	if err != nil {
		return nil, Persistence("rotate refresh token", err)
	}
	if userID == 0 {
		return nil, ErrInvalidCredentials
	}
	at, err := auth.GenerateAccessToken(userID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	return &RefreshResult{AccessToken: at, RefreshToken: newRT}, nil
}

// Get 按 ID 查询用户，不存在时返回 ErrUserNotFound。
func (s *UserService) Get(ctx context.Context, id uint) (*models.User, error) {
	u, err := s.store.FindUserByID(ctx, id)
	if err != nil {
		return nil, Persistence("find user", err)
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// Search 按用户名或展示名模糊搜索，结果中排除自己。
func (s *UserService) Search(ctx context.Context, self uint, q string) ([]models.User, error) {
	q = strings.TrimSpace(q)
	if utf8.RuneCountInString(q) < minSearchLength {
		return nil, Validation("search term must be at least 2 characters")
	}
	users, err := s.store.SearchUsers(ctx, q, searchLimit+1)
	if err != nil {
		return nil, Persistence("search users", err)
	}
	out := make([]models.User, 0, len(users))
	for _, u := range users {
		if u.ID == self {
			continue
		}
		out = append(out, u)
	}
	if len(out) > searchLimit {
		out = out[:searchLimit]
	}
	return out, nil
}
