package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken はセッショントークンが署名不正・形式不正・期限切れのいずれかであることを示す。
var ErrInvalidToken = errors.New("invalid session token")

// minSecretLength はHS256の署名鍵として受け入れる最小バイト数。
const minSecretLength = 32

// SessionClaims はセッショントークンに含めるユーザー情報。
// 発行後は不変で、ログインやプロフィール編集のたびに新しいトークンを発行し直す。
type SessionClaims struct {
	SubjectID   string
	Email       string
	DisplayName string
	AvatarURL   string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// jwtClaims はJWTペイロードの直列化形式。
type jwtClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// TokenCodec はHS256で署名したセッショントークンの発行と検証を行う。
// 署名鍵は起動時に1回だけ設定し、実行中に変更しない。
type TokenCodec struct {
	secret []byte
	now    func() time.Time
}

// TokenCodecOption はTokenCodecの生成オプション。
type TokenCodecOption func(*TokenCodec)

// WithClock は現在時刻の取得関数を差し替える。テスト用。
func WithClock(now func() time.Time) TokenCodecOption {
	return func(c *TokenCodec) {
		c.now = now
	}
}

// NewTokenCodec はTokenCodecを生成する。
// secretが32バイト未満の場合はエラーを返す。
func NewTokenCodec(secret []byte, opts ...TokenCodecOption) (*TokenCodec, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("signing secret must be at least %d bytes", minSecretLength)
	}
	c := &TokenCodec{
		secret: append([]byte(nil), secret...),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Issue はclaimsに発行時刻と有効期限を付与し、署名済みトークンを返す。
// claimsのIssuedAt/ExpiresAtは無視され、現在時刻とttlから算出される。
func (c *TokenCodec) Issue(claims SessionClaims, ttl time.Duration) (string, error) {
	if claims.SubjectID == "" {
		return "", errors.New("subject id is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be positive")
	}

	now := c.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		Email:   claims.Email,
		Name:    claims.DisplayName,
		Picture: claims.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.SubjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})

	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify はトークンの署名と有効期限を検証し、claimsを返す。
// 失敗した場合は常にErrInvalidTokenをラップしたエラーを返す。
func (c *TokenCodec) Verify(tokenString string) (*SessionClaims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	parsed := &jwtClaims{}
	token, err := jwt.ParseWithClaims(tokenString, parsed, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || parsed.Subject == "" {
		return nil, ErrInvalidToken
	}

	claims := &SessionClaims{
		SubjectID:   parsed.Subject,
		Email:       parsed.Email,
		DisplayName: parsed.Name,
		AvatarURL:   parsed.Picture,
		ExpiresAt:   parsed.ExpiresAt.Time,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time
	}
	return claims, nil
}
