package core

import (
	"context"
	"net"
	"net/url"
	"time"
)

// RetryHandlers are the choices offered with a retryable error.
type RetryHandlers struct {
	Retry  func()
	Cancel func()
}

// SharedApplication is implemented by the host application for each
// platform. The manager never renders UI itself.
type SharedApplication interface {
	PresentError(message, title string)
	PresentErrorWithRetry(message, title string, handlers RetryHandlers)

	// PresentPlatformSpecificAuth offers the platform a native way to show
	// the authorization URL. It returns false if the platform has none.
	PresentPlatformSpecificAuth(authURL *url.URL) bool

	// PresentWebAuth shows an embedded web surface. intercept must be consulted
	// for every navigation; a true result means the navigation was handled
	// and must be cancelled. onCancel is called when the user dismisses the
	// surface.
	PresentWebAuth(authURL *url.URL, intercept func(*url.URL) bool, onCancel func())

	PresentExternalApp(u *url.URL)
	CanPresentExternalApp(u *url.URL) bool

	PresentLoading()
	DismissLoading()
}

// SchemeRegistry is an optional capability of a SharedApplication that
// reports which URL schemes the host application is registered for.
type SchemeRegistry interface {
	IsSchemeRegistered(scheme string) bool
}

// Reachability reports whether the authorization host can be reached.
type Reachability interface {
	Reachable(ctx context.Context) bool
}

// DialReachability checks reachability with a TCP dial.
type DialReachability struct {
	Address string // host:port
	Timeout time.Duration
}

func (r DialReachability) Reachable(ctx context.Context) bool {
	timeout := r.Timeout
	if timeout == 0 {
		timeout = 3 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", r.Address)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

type alwaysReachable struct{}

func (alwaysReachable) Reachable(context.Context) bool { return true }
