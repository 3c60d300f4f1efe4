package main

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"strings"

	"dbxauth/core"
)

// consoleApp is the terminal implementation of core.SharedApplication.
// The web surface is emulated by printing the URL and reading the redirect
// URL the user pastes back.
type consoleApp struct {
	in  *bufio.Reader
	out io.Writer
}

func newConsoleApp(in io.Reader, out io.Writer) *consoleApp {
	return &consoleApp{in: bufio.NewReader(in), out: out}
}

func (c *consoleApp) PresentError(message, title string) {
	fmt.Fprintf(c.out, "❌ %s\n   %s\n", title, message)
}

func (c *consoleApp) PresentErrorWithRetry(message, title string, handlers core.RetryHandlers) {
	fmt.Fprintf(c.out, "⚠️  %s\n   %s\nRetry? [y/N] ", title, message)
	answer, _ := c.in.ReadString('\n')
	if strings.EqualFold(strings.TrimSpace(answer), "y") {
		handlers.Retry()
		return
	}
	handlers.Cancel()
}

func (c *consoleApp) PresentPlatformSpecificAuth(authURL *url.URL) bool {
	return false
}

func (c *consoleApp) PresentWebAuth(authURL *url.URL, intercept func(*url.URL) bool, onCancel func()) {
	fmt.Fprintf(c.out, "Open this URL and authorize the app:\n\n  %s\n\n", authURL)

	for {
		fmt.Fprint(c.out, "Paste the redirect URL (empty to cancel): ")
		line, err := c.in.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" {
			onCancel()
			return
		}

		u, parseErr := url.Parse(line)
		if parseErr == nil && intercept(u) {
			return
		}
		fmt.Fprintln(c.out, "Not a recognized redirect URL.")

		if err != nil {
			onCancel()
			return
		}
	}
}

func (c *consoleApp) PresentExternalApp(u *url.URL) {
	fmt.Fprintf(c.out, "Open this URL in your browser:\n\n  %s\n\n", u)
}

// No companion app can be launched from a terminal.
func (c *consoleApp) CanPresentExternalApp(u *url.URL) bool {
	return false
}

func (c *consoleApp) PresentLoading() {
	fmt.Fprintln(c.out, "Linking…")
}

func (c *consoleApp) DismissLoading() {}
