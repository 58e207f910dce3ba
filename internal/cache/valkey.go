package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValkeyConfig holds connection parameters for a Valkey or Redis-compatible
// server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
}

func (cfg *ValkeyConfig) applyDefaults() {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
}

// ValkeyProvider speaks just enough RESP to cover the Provider surface: GET
// and SET with a millisecond TTL for retrieval caching, SET..NX for
// notification dedup. Each command runs on its own short-lived connection;
// retrieval and dedup traffic is far too sparse to justify pooling.
type ValkeyProvider struct {
	cfg ValkeyConfig
}

// NewValkeyProvider validates connectivity with a PING so misconfigured
// credentials or an unreachable server surface at startup, not on the first
// cache read.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	cfg.applyDefaults()
	p := &ValkeyProvider{cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	rep, err := p.do(ctx, "PING")
	if err != nil {
		return nil, err
	}
	if !rep.equals("PONG") {
		return nil, fmt.Errorf("unexpected PING reply: %s", rep.data)
	}
	return p, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	rep, err := p.do(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	if rep.null {
		return nil, ErrCacheMiss
	}
	if rep.prefix != '$' {
		return nil, fmt.Errorf("unexpected GET reply type %q", rep.prefix)
	}
	return rep.data, nil
}

// Set stores bytes with the provided TTL.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := p.store(ctx, key, value, ttl, false)
	return err
}

// SetNX stores the value only if the key does not exist, reporting whether the
// write won.
func (p *ValkeyProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return p.store(ctx, key, value, ttl, true)
}

// Close releases nothing; connections are per-command.
func (p *ValkeyProvider) Close() error { return nil }

func (p *ValkeyProvider) store(ctx context.Context, key string, value []byte, ttl time.Duration, nx bool) (bool, error) {
	args := []string{"SET", key, string(value)}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	if nx {
		args = append(args, "NX")
	}
	rep, err := p.do(ctx, args...)
	if err != nil {
		return false, err
	}
	if rep.null {
		// Only SET..NX replies nil: the key already exists.
		return false, nil
	}
	if !rep.equals("OK") {
		return false, fmt.Errorf("unexpected SET reply: %s", rep.data)
	}
	return true, nil
}

// do runs one command on a fresh connection, retrying transient network
// failures with exponential backoff up to MaxRetries attempts.
func (p *ValkeyProvider) do(ctx context.Context, args ...string) (reply, error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return reply{}, err
		}
		rep, err := p.roundTrip(ctx, args)
		if err == nil {
			return rep, nil
		}
		lastErr = err
		if !retryable(err) || attempt == p.cfg.MaxRetries-1 {
			break
		}
		time.Sleep(time.Duration(1<<attempt) * 25 * time.Millisecond)
	}
	return reply{}, lastErr
}

func (p *ValkeyProvider) roundTrip(ctx context.Context, args []string) (reply, error) {
	rc, err := p.dial(ctx)
	if err != nil {
		return reply{}, err
	}
	defer rc.close()

	if err := p.handshake(rc); err != nil {
		return reply{}, err
	}
	if err := rc.writeCommand(args); err != nil {
		return reply{}, err
	}
	return rc.readReply()
}

func (p *ValkeyProvider) dial(ctx context.Context) (*respConn, error) {
	timeout := p.cfg.DialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		timeout = time.Millisecond
	}

	dialer := net.Dialer{Timeout: timeout}
	var (
		conn net.Conn
		err  error
	)
	if p.cfg.TLS {
		host := p.cfg.Addr
		if h, _, splitErr := net.SplitHostPort(p.cfg.Addr); splitErr == nil {
			host = h
		}
		conn, err = tls.DialWithDialer(&dialer, "tcp", p.cfg.Addr,
			&tls.Config{MinVersion: tls.VersionTLS12, ServerName: host})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}
	return &respConn{
		conn:         conn,
		br:           bufio.NewReader(conn),
		bw:           bufio.NewWriter(conn),
		readTimeout:  p.cfg.ReadTimeout,
		writeTimeout: p.cfg.WriteTimeout,
	}, nil
}

// handshake authenticates and selects the configured database on a fresh
// connection.
func (p *ValkeyProvider) handshake(rc *respConn) error {
	if p.cfg.Password != "" {
		auth := []string{"AUTH", p.cfg.Password}
		if p.cfg.Username != "" {
			auth = []string{"AUTH", p.cfg.Username, p.cfg.Password}
		}
		if err := expectOK(rc, auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if p.cfg.DB > 0 {
		if err := expectOK(rc, []string{"SELECT", strconv.Itoa(p.cfg.DB)}); err != nil {
			return fmt.Errorf("select db %d: %w", p.cfg.DB, err)
		}
	}
	return nil
}

func expectOK(rc *respConn, args []string) error {
	if err := rc.writeCommand(args); err != nil {
		return err
	}
	rep, err := rc.readReply()
	if err != nil {
		return err
	}
	if !rep.equals("OK") {
		return fmt.Errorf("unexpected reply: %s", rep.data)
	}
	return nil
}

// reply is one parsed RESP response. prefix holds the RESP type byte
// ('+', ':' or '$'); null marks the nil bulk string.
type reply struct {
	prefix byte
	data   []byte
	null   bool
}

func (r reply) equals(s string) bool {
	return r.prefix == '+' && strings.EqualFold(string(r.data), s)
}

// respConn frames commands and replies on a single connection.
type respConn struct {
	conn         net.Conn
	br           *bufio.Reader
	bw           *bufio.Writer
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (rc *respConn) close() {
	_ = rc.conn.Close()
}

// writeCommand sends one command as a RESP array of bulk strings.
func (rc *respConn) writeCommand(args []string) error {
	if err := rc.conn.SetWriteDeadline(time.Now().Add(rc.writeTimeout)); err != nil {
		return err
	}
	fmt.Fprintf(rc.bw, "*%d\r\n", len(args))
	for _, arg := range args {
		fmt.Fprintf(rc.bw, "$%d\r\n", len(arg))
		rc.bw.WriteString(arg)
		rc.bw.WriteString("\r\n")
	}
	return rc.bw.Flush()
}

func (rc *respConn) readReply() (reply, error) {
	if err := rc.conn.SetReadDeadline(time.Now().Add(rc.readTimeout)); err != nil {
		return reply{}, err
	}
	prefix, err := rc.br.ReadByte()
	if err != nil {
		return reply{}, err
	}
	line, err := rc.readLine()
	if err != nil {
		return reply{}, err
	}

	switch prefix {
	case '+', ':':
		return reply{prefix: prefix, data: line}, nil
	case '-':
		return reply{}, errors.New(string(line))
	case '$':
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return reply{}, fmt.Errorf("bad bulk length %q", line)
		}
		if size < 0 {
			return reply{prefix: prefix, null: true}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(rc.br, buf); err != nil {
			return reply{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return reply{}, errors.New("bulk string missing terminator")
		}
		return reply{prefix: prefix, data: buf[:size]}, nil
	default:
		return reply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (rc *respConn) readLine() ([]byte, error) {
	line, err := rc.br.ReadString('\n')
	if err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

func retryable(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
