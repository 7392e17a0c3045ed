package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recorder struct{ messages []string }

func (r *recorder) Notify(m string) { r.messages = append(r.messages, m) }

func TestSignInAndOut(t *testing.T) {
	c := New(nil)
	assert.Equal(t, "", c.UserID())

	c.SignIn(User{ID: "u1", DisplayName: "Ana"})
	u, ok := c.User()
	assert.True(t, ok)
	assert.Equal(t, "Ana", u.DisplayName)
	assert.Equal(t, "u1", c.UserID())

	c.OpenModal(ModalReview, "order-1")
	c.SignOut()
	_, ok = c.User()
	assert.False(t, ok)
	_, _, open := c.ActiveModal()
	assert.False(t, open, "sign-out resets overlays")
}

func TestSingleActiveModal(t *testing.T) {
	var seen []Modal
	c := New(nil, WithModalObserver(func(name Modal, _ any) { seen = append(seen, name) }))

	c.OpenModal(ModalLogin, nil)
	c.OpenModal(ModalAuctionWon, 42)

	name, payload, ok := c.ActiveModal()
	assert.True(t, ok)
	assert.Equal(t, ModalAuctionWon, name)
	assert.Equal(t, 42, payload)

	c.CloseModal()
	c.CloseModal()
	_, _, ok = c.ActiveModal()
	assert.False(t, ok)
	assert.Equal(t, []Modal{ModalLogin, ModalAuctionWon, ""}, seen)
}

func TestNotify(t *testing.T) {
	r := &recorder{}
	c := New(r)
	c.Notify("hello")
	assert.Equal(t, []string{"hello"}, r.messages)

	New(nil).Notify("dropped")
}
