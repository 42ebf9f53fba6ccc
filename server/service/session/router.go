// Package session routes incoming turns to their canonical session
// and enforces the protected-context access policy.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/evahq/eva/server/auth"
	"github.com/evahq/eva/store"
)

// Sentinel errors surfaced to the transport layer.
var (
	ErrUnknownContext = errors.New("unknown context")
	ErrUnknownMode    = errors.New("unknown mode")
	ErrAuthRequired   = errors.New("authentication required")
	ErrAuthInvalid    = errors.New("authentication invalid")
)

// Router maps (user, context, mode) to sessions and gates protected
// contexts. Turns on the same session are serialized.
type Router struct {
	store *store.Store
	gate  *auth.Gate

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRouter creates a session router.
func NewRouter(st *store.Store, gate *auth.Gate) *Router {
	return &Router{
		store: st,
		gate:  gate,
		locks: make(map[string]*sync.Mutex),
	}
}

// Authorize enforces the protected-context policy. It returns the
// ticket the caller should keep using: the verified incoming ticket,
// a fresh one minted for a correct password, or "" for unprotected
// contexts. ErrAuthRequired and ErrAuthInvalid report the two failure
// modes; on either the session leaves the cache.
func (r *Router) Authorize(userID, contextName, password, ticketID string) (string, error) {
	if !store.IsProtectedContext(contextName) || !r.gate.IsRequired(userID, contextName) {
		return "", nil
	}

	if ticketID != "" && r.gate.VerifyTicket(ticketID, userID, contextName) {
		return ticketID, nil
	}

	if password != "" {
		if !r.gate.VerifyPassword(userID, contextName, password) {
			r.evictAll(userID, contextName)
			return "", ErrAuthInvalid
		}
		ticket, err := r.gate.CreateTicket(userID, contextName)
		if err != nil {
			return "", errors.Wrap(err, "failed to create auth ticket")
		}
		return ticket, nil
	}

	r.evictAll(userID, contextName)
	return "", ErrAuthRequired
}

// evictAll drops the user's cached sessions for a context so a
// protected session is only cached while its ticket is valid.
func (r *Router) evictAll(userID, contextName string) {
	for _, mode := range store.KnownModes {
		r.store.EvictSession(store.SessionID(userID, contextName, mode))
	}
}

// Resolve returns the session for the triple, loading it from the
// store or creating it lazily on first use.
func (r *Router) Resolve(ctx context.Context, userID, contextName, mode string) (*store.Session, error) {
	if !store.IsKnownContext(contextName) {
		return nil, ErrUnknownContext
	}
	if !store.IsKnownMode(mode) {
		return nil, ErrUnknownMode
	}

	sessionID := store.SessionID(userID, contextName, mode)
	session, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session != nil {
		return session, nil
	}

	return &store.Session{
		SessionID: sessionID,
		UserID:    userID,
		Context:   contextName,
		Mode:      mode,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Lock serializes turns on one session. The returned function
// releases the lock.
func (r *Router) Lock(sessionID string) func() {
	r.mu.Lock()
	lock, ok := r.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[sessionID] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
