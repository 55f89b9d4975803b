package jwt

import (
	"fmt"
	"time"

	"github.com/IlyasAtabaev731/banco-digital/internal/domain/models"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

// NewToken signs a session for cred and returns it with the token id filled in.
func NewToken(cred *models.Credential, jwtSecret string, duration time.Duration) (*models.Session, error) {
	token := jwt.New(jwt.SigningMethodHS256)

	tokenID := uuid.NewString()
	expiresAt := time.Now().Add(duration)

	claims := token.Claims.(jwt.MapClaims)
	claims["uid"] = cred.UID
	claims["email"] = cred.Email
	claims["jti"] = tokenID
	claims["exp"] = expiresAt.Unix()

	tokenString, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		return nil, err
	}

	return &models.Session{
		UID:       cred.UID,
		Email:     cred.Email,
		TokenID:   tokenID,
		Token:     tokenString,
		ExpiresAt: time.Unix(expiresAt.Unix(), 0),
	}, nil
}

func ParseToken(tokenString string, secret string) (map[string]interface{}, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

// ParseSession parses tokenString and rebuilds the session it was issued for.
func ParseSession(tokenString string, secret string) (*models.Session, error) {
	claims, err := ParseToken(tokenString, secret)
	if err != nil {
		return nil, err
	}

	uid, _ := claims["uid"].(string)
	email, _ := claims["email"].(string)
	tokenID, _ := claims["jti"].(string)
	exp, _ := claims["exp"].(float64)

	if uid == "" || tokenID == "" {
		return nil, fmt.Errorf("token misses required claims")
	}

	return &models.Session{
		UID:       uid,
		Email:     email,
		TokenID:   tokenID,
		Token:     tokenString,
		ExpiresAt: time.Unix(int64(exp), 0),
	}, nil
}
