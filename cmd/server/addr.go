package main

import "net/url"

// listenAddress derives the listen address from the configured base URL so
// the CLI and the server agree by default.
func listenAddress(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Port() == "" {
		return ":8480"
	}
	return ":" + u.Port()
}
