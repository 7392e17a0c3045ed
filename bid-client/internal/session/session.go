// Package session holds the client's application context: the signed-in
// user, the single active overlay and the toast surface. One Context is
// created at start-up and handed to every view that needs it.
package session

import (
	"sync"

	"github.com/rs/zerolog"
)

// User is the signed-in account.
type User struct {
	ID          string
	DisplayName string
}

// Modal names an overlay.
type Modal string

const (
	ModalLogin      Modal = "login"
	ModalProduct    Modal = "product"
	ModalAuctionWon Modal = "auctionWon"
	ModalReview     Modal = "review"
)

// Notifier displays transient messages.
type Notifier interface {
	Notify(message string)
}

// LogNotifier writes toasts to a logger.
type LogNotifier struct {
	Log zerolog.Logger
}

// Notify logs message at info level.
func (n LogNotifier) Notify(message string) {
	n.Log.Info().Str("toast", message).Msg("notification")
}

// ModalObserver is called after an overlay opens or closes. name is empty on close.
type ModalObserver func(name Modal, payload any)

// Context is the application-scoped state shared by views.
type Context struct {
	mu       sync.RWMutex
	user     *User
	modal    Modal
	payload  any
	notifier Notifier
	observer ModalObserver
}

// Option configures a Context.
type Option func(*Context)

// WithModalObserver registers fn to be told about overlay changes.
func WithModalObserver(fn ModalObserver) Option {
	return func(c *Context) { c.observer = fn }
}

// New creates a signed-out Context.
func New(notifier Notifier, opts ...Option) *Context {
	c := &Context{notifier: notifier}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SignIn sets the current user.
func (c *Context) SignIn(u User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = &u
}

// SignOut clears the user and any open overlay.
func (c *Context) SignOut() {
	c.mu.Lock()
	c.user = nil
	hadModal := c.modal != ""
	c.modal, c.payload = "", nil
	observer := c.observer
	c.mu.Unlock()

	if hadModal && observer != nil {
		observer("", nil)
	}
}

// User returns the signed-in user.
func (c *Context) User() (User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return User{}, false
	}
	return *c.user, true
}

// UserID returns the signed-in user's id, or "" when signed out.
func (c *Context) UserID() string {
	u, _ := c.User()
	return u.ID
}

// OpenModal makes name the active overlay, replacing any other.
func (c *Context) OpenModal(name Modal, payload any) {
	c.mu.Lock()
	c.modal, c.payload = name, payload
	observer := c.observer
	c.mu.Unlock()

	if observer != nil {
		observer(name, payload)
	}
}

// CloseModal dismisses the active overlay.
func (c *Context) CloseModal() {
	c.mu.Lock()
	if c.modal == "" {
		c.mu.Unlock()
		return
	}
	c.modal, c.payload = "", nil
	observer := c.observer
	c.mu.Unlock()

	if observer != nil {
		observer("", nil)
	}
}

// ActiveModal returns the open overlay and its payload.
func (c *Context) ActiveModal() (Modal, any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.modal, c.payload, c.modal != ""
}

// Notify shows a transient message.
func (c *Context) Notify(message string) {
	if c.notifier != nil {
		c.notifier.Notify(message)
	}
}
