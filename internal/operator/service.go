package operator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SmartGarageLink/SmartGarageLink/internal/common/auth"
	"github.com/SmartGarageLink/SmartGarageLink/internal/common/config"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Service 操作员账号用例：注册 + 登录签发 token。
type Service struct {
	repo    *Repo
	authCfg config.AuthConfig
}

func NewService(repo *Repo, authCfg config.AuthConfig) *Service {
	return &Service{repo: repo, authCfg: authCfg}
}

// Register 注册操作员。
// 用户名查重交给唯一索引仲裁（与客户建档同一套乐观插入思路），
// 不做“先查再插”的竞态写法。
func (s *Service) Register(ctx context.Context, username, password, displayName, branchID string) (*Operator, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("username/password required")
	}

	salt, err := GenerateSaltHex()
	if err != nil {
		return nil, err
	}
	hash, err := HashPassword(password, salt)
	if err != nil {
		return nil, err
	}

	o := &Operator{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		PasswordSalt: salt,
		DisplayName:  strings.TrimSpace(displayName),
		BranchID:     strings.TrimSpace(branchID),
		Roles:        JoinRoles([]string{"staff"}),
	}
	if err := s.repo.Create(ctx, o); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}
	return o, nil
}

// Login 校验口令并签发 access token。
func (s *Service) Login(ctx context.Context, username, password string) (token string, expiresAt time.Time, op *Operator, err error) {
	if s == nil || s.repo == nil {
		return "", time.Time{}, nil, fmt.Errorf("service not initialized")
	}
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", time.Time{}, nil, ErrInvalidCredentials
	}

	o, err := s.repo.FindByUsername(ctx, username)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", time.Time{}, nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", time.Time{}, nil, err
	}
	if !VerifyPassword(password, o.PasswordSalt, o.PasswordHash) {
		return "", time.Time{}, nil, ErrInvalidCredentials
	}

	ttl := time.Duration(s.authCfg.TokenTTLMin) * time.Minute
	token, expiresAt, err = auth.GenerateAccessToken(s.authCfg, o.ID, o.RolesSlice(), ttl)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	return token, expiresAt, o, nil
}
