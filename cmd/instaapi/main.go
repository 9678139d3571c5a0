// Package main provides the entry point for the instaapi CLI.
//
// instaapi issues authenticated private-API calls through a pool of
// sessions, identities and proxies, retrying, refreshing and resolving
// challenges as needed, and looks up public profiles anonymously.
//
// Usage:
//
//	instaapi call GET /api/v1/users/25025320/info/
//	instaapi lookup instagram
//	instaapi status --markdown
//
// See --help for all available options.
package main

func main() {
	Execute()
}
