package routing

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/temzero/chatter-sub006/internal/util"
)

const roomPrefix = "conv-"

// RoomName derives the media-routing room name for a conversation.
func RoomName(conversationID string) string {
	return roomPrefix + conversationID
}

// ParseRoom recovers the conversation id from a room name.
func ParseRoom(room string) (string, bool) {
	if !strings.HasPrefix(room, roomPrefix) {
		return "", false
	}
	return strings.TrimPrefix(room, roomPrefix), true
}

type tokenClaims struct {
	Room     string `json:"room"`
	Identity string `json:"identity"`
	Name     string `json:"name"`
	Exp      int64  `json:"exp"`
}

// TokenIssuer signs room-join tokens for the external media-routing service.
// The service validates them with the shared secret; this process never talks
// to the media plane directly.
type TokenIssuer struct {
	secret string
	ttl    time.Duration
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: secret, ttl: ttl}
}

// Issue returns a signed token granting identity access to the conversation's
// room until the TTL elapses.
func (i *TokenIssuer) Issue(conversationID, identity, displayName string) (string, error) {
	claims := tokenClaims{
		Room:     RoomName(conversationID),
		Identity: identity,
		Name:     displayName,
		Exp:      time.Now().Add(i.ttl).Unix(),
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	signature := util.HmacSHA256(i.secret, encoded)
	return encoded + "." + signature, nil
}

// Verify checks a token's signature and expiry and returns its claims.
func (i *TokenIssuer) Verify(token string) (room, identity string, err error) {
	encoded, signature, ok := strings.Cut(token, ".")
	if !ok {
		return "", "", fmt.Errorf("malformed token")
	}

	if !util.ConstantTimeEqual(util.HmacSHA256(i.secret, encoded), signature) {
		return "", "", fmt.Errorf("invalid token signature")
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", fmt.Errorf("decode token: %w", err)
	}

	var claims tokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", "", fmt.Errorf("parse claims: %w", err)
	}

	if time.Now().Unix() >= claims.Exp {
		return "", "", fmt.Errorf("token expired")
	}

	return claims.Room, claims.Identity, nil
}
