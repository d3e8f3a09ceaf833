package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"rulequery-go/internal/config"
)

// 管理令牌签名密钥的最小长度
const minSecretLength = 32

var (
	// ErrMissingSecret 未配置签名密钥
	ErrMissingSecret = errors.New("未配置JWT签名密钥")
	// ErrInvalidToken 令牌无法解析、签名不符或已过期
	ErrInvalidToken = errors.New("无效的访问令牌")
	// ErrMissingHeader Authorization头缺失或格式错误
	ErrMissingHeader = errors.New("缺少Bearer令牌")
)

// AdminClaims 管理令牌的Claims，Subject为操作人
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Validate 实现jwt.ClaimsValidator
func (c AdminClaims) Validate() error {
	if c.Subject == "" {
		return errors.New("令牌缺少操作人")
	}
	if c.Role == "" {
		return errors.New("令牌缺少角色")
	}
	return nil
}

// JWTService 基于HS256的管理接口令牌服务
type JWTService struct {
	secret    []byte
	issuer    string
	adminRole string
	now       func() time.Time
	logger    *zap.Logger
}

// NewJWTService 创建令牌服务，密钥为空时返回ErrMissingSecret
func NewJWTService(cfg *config.AuthConfig, logger *zap.Logger) (*JWTService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil || cfg.JWTSecret == "" {
		return nil, ErrMissingSecret
	}
	if len(cfg.JWTSecret) < minSecretLength {
		return nil, fmt.Errorf("JWT签名密钥长度不能少于%d字节", minSecretLength)
	}
	adminRole := cfg.AdminRole
	if adminRole == "" {
		adminRole = "admin"
	}

	logger.Info("JWT service initialized",
		zap.String("issuer", cfg.Issuer),
		zap.String("admin_role", adminRole))
	return &JWTService{
		secret:    []byte(cfg.JWTSecret),
		issuer:    cfg.Issuer,
		adminRole: adminRole,
		now:       time.Now,
		logger:    logger,
	}, nil
}

// AdminRole 管理员角色名
func (j *JWTService) AdminRole() string {
	return j.adminRole
}

// IssueToken 签发令牌，ttl<=0时不设置过期时间
func (j *JWTService) IssueToken(subject, role string, ttl time.Duration) (string, error) {
	now := j.now()
	claims := AdminClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	if err := claims.Validate(); err != nil {
		return "", fmt.Errorf("签发令牌失败: %w", err)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("签发令牌失败: %w", err)
	}
	j.logger.Info("Token issued",
		zap.String("subject", subject),
		zap.String("role", role),
		zap.Duration("ttl", ttl))
	return signed, nil
}

// ValidateToken 校验签名、签发者和有效期
func (j *JWTService) ValidateToken(tokenString string) (*AdminClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}

	claims := &AdminClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

// ValidateTokenFromRequest 从Authorization头校验令牌
func (j *JWTService) ValidateTokenFromRequest(authHeader string) (*AdminClaims, error) {
	tokenString, err := ExtractTokenFromHeader(authHeader)
	if err != nil {
		return nil, err
	}
	return j.ValidateToken(tokenString)
}

// ExtractTokenFromHeader 从Authorization Header提取Bearer令牌
func ExtractTokenFromHeader(authHeader string) (string, error) {
	const bearerPrefix = "Bearer "
	if len(authHeader) < len(bearerPrefix) || !strings.EqualFold(authHeader[:len(bearerPrefix)], bearerPrefix) {
		return "", ErrMissingHeader
	}
	token := strings.TrimSpace(authHeader[len(bearerPrefix):])
	if token == "" {
		return "", ErrMissingHeader
	}
	return token, nil
}
