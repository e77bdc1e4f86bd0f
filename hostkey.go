package main

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// HostKeys signs and verifies the tokens a host uses to reclaim its room
// after a dropped connection.
type HostKeys struct {
	jwtSecret string
	window    time.Duration
}

func NewHostKeys(jwtSecret string, window time.Duration) *HostKeys {
	return &HostKeys{jwtSecret, window}
}

func (h HostKeys) Generate(roomCode string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"roomCode": roomCode, "exp": jwt.NewNumericDate(time.Now().Add(h.window))})
	return token.SignedString([]byte(h.jwtSecret))
}

// RoomCodeFromKey returns the room code a key was issued for, or "" when the
// key is invalid or expired.
func (h HostKeys) RoomCodeFromKey(tokenString string) string {
	token, _ := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(h.jwtSecret), nil
	})
	if token == nil {
		return ""
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		if roomCode, ok := claims["roomCode"].(string); ok {
			return roomCode
		}
	}
	return ""
}
