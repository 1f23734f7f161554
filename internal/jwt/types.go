package jwt

import (
	"github.com/golang-jwt/jwt/v5"
)

// Auth verifies room-access tokens issued by the meeting service.
type Auth interface {
	Sign(userID, roomID string) (string, error)
	Verify(tokenString string) (*Payload, error)
}

// Payload binds a connection to one user in one room.
type Payload struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
	jwt.RegisteredClaims
}
