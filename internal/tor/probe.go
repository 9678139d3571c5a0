package tor

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultProbeTimeout bounds one probe, connection included.
const DefaultProbeTimeout = 5 * time.Second

// SOCKS5 protocol constants (RFC 1928, RFC 1929).
const (
	socks5Version       = 0x05
	socks5AuthNone      = 0x00
	socks5AuthUserPass  = 0x02
	socks5AuthNoAccept  = 0xFF
	socks5CmdConnect    = 0x01
	socks5AddrTypeDomID = 0x03
	socks5UserPassVer   = 0x01
)

// Prober checks that proxies complete their protocol handshake up to a
// CONNECT towards TargetHost:TargetPort. The CONNECT result itself is not
// judged: any well-formed reply proves the endpoint is a working proxy.
type Prober struct {
	TargetHost string
	TargetPort uint16
	Timeout    time.Duration
}

// NewProber creates a Prober for target ("host:port").
func NewProber(target string, timeout time.Duration) (*Prober, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return nil, fmt.Errorf("invalid probe target: %w", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return nil, fmt.Errorf("invalid probe target port %q", portStr)
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{TargetHost: host, TargetPort: uint16(port), Timeout: timeout}, nil
}

// Probe implements the pool's probe signature.
func (p *Prober) Probe(ctx context.Context, uri string) error {
	return p.Check(ctx, uri).Error()
}

// Check probes the proxy at uri.
func (p *Prober) Check(ctx context.Context, uri string) ProxyStatus {
	u, err := url.Parse(uri)
	if err != nil {
		return ProxyStatusWrongType
	}

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", u.Host)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ProxyStatusTimeout
		}
		return ProxyStatusCannotConnect
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return ProxyStatusCannotConnect
	}

	switch u.Scheme {
	case "socks5", "socks5h":
		return p.socks5(conn, u.User)
	case "http", "https":
		return p.httpConnect(conn, u.User)
	default:
		return ProxyStatusWrongType
	}
}

// socks5 performs method negotiation, optional username/password
// authentication and a CONNECT request.
func (p *Prober) socks5(conn net.Conn, user *url.Userinfo) ProxyStatus {
	greeting := []byte{socks5Version, 0x01, socks5AuthNone}
	if user != nil {
		greeting = []byte{socks5Version, 0x02, socks5AuthNone, socks5AuthUserPass}
	}
	if _, err := conn.Write(greeting); err != nil {
		return ProxyStatusCannotConnect
	}

	authResp := make([]byte, 2)
	if _, err := io.ReadFull(conn, authResp); err != nil {
		return readFailure(err)
	}
	if authResp[0] != socks5Version {
		return ProxyStatusWrongType
	}

	switch authResp[1] {
	case socks5AuthNone:
	case socks5AuthUserPass:
		if user == nil {
			return ProxyStatusAuthRejected
		}
		if status := socks5UserPass(conn, user); status != ProxyStatusOK {
			return status
		}
	case socks5AuthNoAccept:
		return ProxyStatusAuthRejected
	default:
		return ProxyStatusWrongType
	}

	connectReq := []byte{
		socks5Version,
		socks5CmdConnect,
		0x00, // reserved
		socks5AddrTypeDomID,
		byte(len(p.TargetHost)),
	}
	connectReq = append(connectReq, p.TargetHost...)
	connectReq = append(connectReq, byte(p.TargetPort>>8), byte(p.TargetPort&0xFF))
	if _, err := conn.Write(connectReq); err != nil {
		return ProxyStatusCannotConnect
	}

	// version + reply + reserved + addr type
	connectResp := make([]byte, 4)
	if _, err := io.ReadFull(conn, connectResp); err != nil {
		return readFailure(err)
	}
	if connectResp[0] != socks5Version {
		return ProxyStatusWrongType
	}
	return ProxyStatusOK
}

func socks5UserPass(conn net.Conn, user *url.Userinfo) ProxyStatus {
	name := user.Username()
	pass, _ := user.Password()
	if len(name) > 255 || len(pass) > 255 {
		return ProxyStatusAuthRejected
	}

	req := []byte{socks5UserPassVer, byte(len(name))}
	req = append(req, name...)
	req = append(req, byte(len(pass)))
	req = append(req, pass...)
	if _, err := conn.Write(req); err != nil {
		return ProxyStatusCannotConnect
	}

	resp := make([]byte, 2)
	if _, err := io.ReadFull(conn, resp); err != nil {
		return readFailure(err)
	}
	if resp[1] != 0x00 {
		return ProxyStatusAuthRejected
	}
	return ProxyStatusOK
}

// httpConnect sends a CONNECT request and requires a 2xx answer.
func (p *Prober) httpConnect(conn net.Conn, user *url.Userinfo) ProxyStatus {
	target := net.JoinHostPort(p.TargetHost, strconv.Itoa(int(p.TargetPort)))
	req := "CONNECT " + target + " HTTP/1.1\r\nHost: " + target + "\r\n"
	if user != nil {
		pass, _ := user.Password()
		cred := base64.StdEncoding.EncodeToString([]byte(user.Username() + ":" + pass))
		req += "Proxy-Authorization: Basic " + cred + "\r\n"
	}
	req += "\r\n"
	if _, err := io.WriteString(conn, req); err != nil {
		return ProxyStatusCannotConnect
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		return readFailure(err)
	}
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusProxyAuthRequired:
		return ProxyStatusAuthRejected
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return ProxyStatusOK
	default:
		return ProxyStatusWrongType
	}
}

func readFailure(err error) ProxyStatus {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ProxyStatusTimeout
	}
	return ProxyStatusWrongType
}
