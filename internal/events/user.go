package events

import (
	v1 "github.com/commercekit/relay/internal/api/v1"
)

// UserEvents maps identity and engagement domain actions to events.
type UserEvents struct {
	*Builder
}

// NewUserEvents creates the user event factories.
func NewUserEvents(builder *Builder) *UserEvents {
	return &UserEvents{Builder: builder}
}

// UserData builds a dl_user_data snapshot of the current identity state.
func (u *UserEvents) UserData(profile map[string]string) *v1.Event {
	return u.NewEvent(v1.EventUserData, nil, profile)
}

// SignUp builds a dl_sign_up for a created account.
func (u *UserEvents) SignUp(profile map[string]string) *v1.Event {
	evt := u.NewEvent(v1.EventSignUp, nil, profile)
	evt.Data = map[string]interface{}{"method": "storefront"}
	return evt
}

// Login builds a dl_login for a returning account.
func (u *UserEvents) Login(profile map[string]string) *v1.Event {
	evt := u.NewEvent(v1.EventLogin, nil, profile)
	evt.Data = map[string]interface{}{"method": "storefront"}
	return evt
}

// ExitIntent builds a dl_exit_intent carrying the prompt interaction
// ("shown", "accepted", "dismissed").
func (u *UserEvents) ExitIntent(action string) *v1.Event {
	evt := u.NewEvent(v1.EventExitIntent, nil, nil)
	evt.Data = map[string]interface{}{"action": action}
	return evt
}
