package models

import "time"

// Cookie is one authentication cookie captured from the browser after login.
// The JSON field names match the on-disk session file.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Secure   bool    `json:"secure"`
	HTTPOnly bool    `json:"httpOnly"`
	SameSite string  `json:"sameSite,omitempty"`
	Expires  float64 `json:"expirationDate,omitempty"`
}

// Session is the persisted authentication state of one login. It is written
// once per run by the session acquirer and read-only afterwards; staleness is
// not tracked explicitly and only surfaces as downstream failure.
type Session struct {
	Cookies    []Cookie  `json:"cookies"`
	CapturedAt time.Time `json:"captured_at"`
}
