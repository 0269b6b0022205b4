// Package session carries the identity of the signed-in user.
//
// A Session is created at login and discarded at logout; components that act
// on behalf of a user receive it explicitly instead of reading global state.
package session

import (
	"strings"
	"sync"
)

// UserIDProvider returns the current user id, or false when nobody is signed in.
type UserIDProvider interface {
	UserID() (string, bool)
}

// Session is a UserIDProvider whose user can sign out.
type Session struct {
	mu     sync.RWMutex
	userID string
}

// New returns a session for userID. A blank id yields a signed-out session.
func New(userID string) *Session {
	return &Session{userID: strings.TrimSpace(userID)}
}

// Anonymous returns a session with no user.
func Anonymous() *Session {
	return &Session{}
}

func (s *Session) UserID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID, s.userID != ""
}

// SignOut clears the user; subsequent UserID calls report false.
func (s *Session) SignOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = ""
}
