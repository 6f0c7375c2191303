package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config параметры выпуска и проверки токенов устройств
type Config struct {
	// Secret HMAC секрет подписи
	Secret string

	// Issuer значение поля iss
	Issuer string

	// TTL срок жизни токена
	TTL time.Duration
}

// Claims represents device token claims
type Claims struct {
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

// Generate выпускает bearer-токен для устройства
func Generate(cfg Config, deviceID string) (string, error) {
	now := time.Now()

	claims := Claims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.TTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// Validate проверяет подпись и срок действия токена устройства
func Validate(cfg Config, tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if claims.DeviceID == "" {
		return nil, fmt.Errorf("token has no device id")
	}

	return claims, nil
}
