package auth

import (
	"collaborative-office-suite/internal/config"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const accessTokenTTL = 24 * time.Hour

// TokenData is what the middleware needs from a verified token.
type TokenData struct {
	UserID       string
	TokenVersion int64
	// AuthTime is when the user last proved their password.
	AuthTime time.Time
}

func secret() []byte {
	return []byte(config.AppConfig.JWTSecret)
}

func GenerateAccessToken(userID string, tokenVersion int64, authTime time.Time) (string, error) {
	claims := jwt.MapClaims{
		"user_id":       userID,
		"token_version": tokenVersion,
		"auth_time":     authTime.Unix(),
		"exp":           time.Now().Add(accessTokenTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret())
}

func VerifyJWT(tokenString string) (*jwt.Token, error) {
	jwtToken, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret(), nil
	})
	if err != nil {
		return nil, err
	}

	if !jwtToken.Valid {
		return nil, errors.New("token invalid")
	}

	return jwtToken, nil
}

func GetDataFromToken(token *jwt.Token) (TokenData, error) {
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return TokenData{}, errors.New("invalid claims")
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return TokenData{}, errors.New("user_id missing")
	}
	// numbers decode as float64
	version, ok := claims["token_version"].(float64)
	if !ok {
		return TokenData{}, errors.New("token_version missing")
	}
	authTime, ok := claims["auth_time"].(float64)
	if !ok {
		return TokenData{}, errors.New("auth_time missing")
	}

	return TokenData{
		UserID:       userID,
		TokenVersion: int64(version),
		AuthTime:     time.Unix(int64(authTime), 0),
	}, nil
}
