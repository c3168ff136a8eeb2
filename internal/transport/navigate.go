package transport

import (
	"context"
	"net/url"
)

// SessionExpiredParam is the query parameter the login view looks for.
const SessionExpiredParam = "sessionExpired"

// SessionExpiredURL is where a terminally failed session is sent.
const SessionExpiredURL = "/login?" + SessionExpiredParam + "=true"

// Navigator moves the user to another view.
type Navigator interface {
	Navigate(ctx context.Context, target string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(ctx context.Context, target string)

func (f NavigatorFunc) Navigate(ctx context.Context, target string) {
	f(ctx, target)
}

// ConsumeSessionExpired reports whether rawURL carries the session-expired
// indicator and returns rawURL with it removed.
func ConsumeSessionExpired(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL, false
	}
	q := u.Query()
	if q.Get(SessionExpiredParam) != "true" {
		return rawURL, false
	}
	q.Del(SessionExpiredParam)
	u.RawQuery = q.Encode()
	return u.String(), true
}
