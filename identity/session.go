package identity

import (
	"context"
	"sync"

	"goflare.io/storefront/models"
)

// State is what a Session exposes to its subscribers.
type State struct {
	User    *models.User `json:"user"`
	Loading bool         `json:"loading"`
	Error   string       `json:"error,omitempty"`
}

func (s State) Authenticated() bool {
	return s.User != nil
}

// Session tracks the signed-in user for one client. It starts loading until
// Restore or an auth operation settles it.
type Session struct {
	provider Provider

	mu        sync.Mutex
	state     State
	listeners map[int]func(State)
	nextID    int
}

func NewSession(provider Provider) *Session {
	return &Session{
		provider:  provider,
		state:     State{Loading: true},
		listeners: make(map[int]func(State)),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe calls fn on every change until the returned func is called.
func (s *Session) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Restore resolves idToken into the current user. An empty token settles as signed out.
// The Verify error is returned as well so callers can tell a bad token from a
// provider outage.
func (s *Session) Restore(ctx context.Context, idToken string) (State, error) {
	if idToken == "" {
		return s.set(State{}), nil
	}
	user, err := s.provider.Verify(ctx, idToken)
	if err != nil {
		return s.set(State{Error: Message(err)}), err
	}
	return s.set(State{User: user}), nil
}

func (s *Session) SignIn(ctx context.Context, email, password string) error {
	s.clearError()
	user, err := s.provider.SignIn(ctx, email, password)
	if err != nil {
		s.fail(err)
		return err
	}
	s.set(State{User: user})
	return nil
}

func (s *Session) SignUp(ctx context.Context, email, password, displayName string) error {
	s.clearError()
	user, err := s.provider.SignUp(ctx, email, password, displayName)
	if err != nil {
		s.fail(err)
		return err
	}
	s.set(State{User: user})
	return nil
}

func (s *Session) SignOut(ctx context.Context) error {
	s.clearError()
	current := s.State().User
	if current == nil {
		s.set(State{})
		return nil
	}
	if err := s.provider.SignOut(ctx, current.UID); err != nil {
		s.fail(err)
		return err
	}
	s.set(State{})
	return nil
}

func (s *Session) ResetPassword(ctx context.Context, email string) error {
	s.clearError()
	if err := s.provider.ResetPassword(ctx, email); err != nil {
		s.fail(err)
		return err
	}
	return nil
}

func (s *Session) ClearError() {
	s.clearError()
}

func (s *Session) clearError() {
	s.mu.Lock()
	if s.state.Error == "" {
		s.mu.Unlock()
		return
	}
	next := s.state
	next.Error = ""
	s.mu.Unlock()
	s.set(next)
}

// fail keeps the current user and records the shopper-facing message.
func (s *Session) fail(err error) {
	next := s.State()
	next.Loading = false
	next.Error = Message(err)
	s.set(next)
}

func (s *Session) set(next State) State {
	s.mu.Lock()
	s.state = next
	listeners := make([]func(State), 0, len(s.listeners))
	for id := 0; id < s.nextID; id++ {
		if fn, ok := s.listeners[id]; ok {
			listeners = append(listeners, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
	return next
}
