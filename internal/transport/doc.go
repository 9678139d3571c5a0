// Package transport performs single HTTP exchanges with the upstream API.
//
// A Transport executes exactly one request and returns the raw response.
// It never retries, never follows redirects and never interprets the body:
// retry policy lives in the executor and interpretation in the classifier.
//
// Two implementations are provided:
//
//   - HTTPTransport uses net/http with SOCKS5 (golang.org/x/net/proxy) or
//     HTTP CONNECT proxies and decodes gzip, deflate, br and zstd bodies.
//   - TLSTransport uses bogdanfinn/tls-client to present a browser or app
//     TLS/HTTP2 fingerprint and sends headers in the exact order given.
//
// Headers are modelled as an ordered list (Header) because the upstream
// rejects requests whose header layout does not match a real client.
package transport
