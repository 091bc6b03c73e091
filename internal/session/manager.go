// Package session implements the session manager (C5): short shared
// codes so multiple clients can join one logical session. The manager
// holds no lock of its own; the router is the only caller that changes
// its state. See SPEC_FULL's DOMAIN STACK for why a mirror exists at
// all.
package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ctxlens/backend/pkg/Logger"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const codeLength = 6

// MirrorTTL is how long the mirrored code stays in Redis before the
// entry expires on its own. Nothing in this package reads the mirror
// back.
const MirrorTTL = 2 * time.Hour

// Session is the single active session: a code, its creator, and the
// set of client ids that have joined.
type Session struct {
	Code            string
	CreatorClientID string
	Participants    map[string]struct{}
}

// Manager tracks at most one active session at a time.
type Manager struct {
	log    *Logger.Logger
	redis  *redis.Client // optional; nil disables the mirror
	active *Session
}

// New constructs a Manager. redisClient may be nil to run without the
// mirror.
func New(log *Logger.Logger, redisClient *redis.Client) *Manager {
	return &Manager{log: log, redis: redisClient}
}

func generateCode() (string, error) {
	buf := make([]byte, codeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session: generate code: %w", err)
	}
	out := make([]byte, codeLength)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}

// CreateSession returns a fresh code iff no session is currently
// active.
func (m *Manager) CreateSession(creatorClientID string) (string, error) {
	if m.active != nil {
		return "", fmt.Errorf("session: a session is already active")
	}
	code, err := generateCode()
	if err != nil {
		return "", err
	}
	m.active = &Session{
		Code:            code,
		CreatorClientID: creatorClientID,
		Participants:    map[string]struct{}{creatorClientID: {}},
	}
	m.mirror(code)
	return code, nil
}

// JoinSession adds clientID to the active session's participants iff
// code matches the active session's code.
func (m *Manager) JoinSession(clientID, code string) bool {
	if m.active == nil || m.active.Code != code {
		return false
	}
	m.active.Participants[clientID] = struct{}{}
	return true
}

// GetActiveSessionCode returns the active code, or "" if none.
func (m *Manager) GetActiveSessionCode() string {
	if m.active == nil {
		return ""
	}
	return m.active.Code
}

// ParticipantCount reports how many clients have joined the active
// session, for the stats endpoint.
func (m *Manager) ParticipantCount() int {
	if m.active == nil {
		return 0
	}
	return len(m.active.Participants)
}

// mirror writes the live code into Redis under session:active_code
// with MirrorTTL, best-effort: a mirror failure is logged and never
// fails session creation. Only the code is mirrored, not the
// participant set.
func (m *Manager) mirror(code string) {
	if m.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.redis.Set(ctx, "session:active_code", code, MirrorTTL).Err(); err != nil && m.log != nil {
		m.log.Warnf("session: redis mirror write failed: %v", err)
	}
}
