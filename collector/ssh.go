package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHOptions describes how to reach a remote host.
type SSHOptions struct {
	Addr           string // host:port
	User           string
	KeyPath        string // private key, preferred over Password
	Password       string
	KnownHostsPath string // empty -> host keys are not verified
	Timeout        time.Duration
	Log            *zap.Logger
}

func (o SSHOptions) clientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if o.KeyPath != "" {
		keyByte, err := os.ReadFile(o.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		key, err := ssh.ParsePrivateKey(keyByte)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(key))
	}
	if o.Password != "" {
		auth = append(auth, ssh.Password(o.Password))
	}
	if len(auth) == 0 {
		return nil, errors.New("ssh: no key or password configured")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if o.KnownHostsPath != "" {
		cb, err := knownhosts.New(o.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	timeout := o.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &ssh.ClientConfig{
		User:            o.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

// sshConn keeps one SSH connection open between polls and redials after a
// failure.
type sshConn struct {
	opts SSHOptions

	mu     sync.Mutex
	client *ssh.Client
	closed bool
}

func (c *sshConn) get(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, net.ErrClosed
	}
	if c.client != nil {
		return c.client, nil
	}

	conf, err := c.opts.clientConfig()
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.opts.Addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	sc, chans, reqs, err := ssh.NewClientConn(conn, c.opts.Addr, conf)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", c.opts.Addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	c.client = ssh.NewClient(sc, chans, reqs)
	if c.opts.Log != nil {
		c.opts.Log.Debug("ssh connected", zap.String("addr", c.opts.Addr))
	}
	return c.client, nil
}

// drop discards a broken connection so the next poll redials.
func (c *sshConn) drop(client *ssh.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == client && client != nil {
		client.Close()
		c.client = nil
	}
}

func (c *sshConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

// withDeadline closes client when ctx expires before fn returns, which
// unblocks any pending session I/O.
func withDeadline(ctx context.Context, c *sshConn, client *ssh.Client, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		c.drop(client)
		<-done
		return ctx.Err()
	}
}

// SSHCollector runs a command on a remote host and parses its output.
type SSHCollector struct {
	conn    sshConn
	Command string
	Parser  Parser // nil -> ParseKeyValues
}

func NewSSHCollector(opts SSHOptions, command string, parser Parser) *SSHCollector {
	return &SSHCollector{conn: sshConn{opts: opts}, Command: command, Parser: parser}
}

func (s *SSHCollector) Collect(ctx context.Context) (map[string]float64, error) {
	client, err := s.conn.get(ctx)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	err = withDeadline(ctx, &s.conn, client, func() error {
		session, err := client.NewSession()
		if err != nil {
			return fmt.Errorf("new session: %w", err)
		}
		defer session.Close()
		session.Stdout = &b
		return session.Run(s.Command)
	})
	if err != nil {
		var exitErr *ssh.ExitError
		if !errors.As(err, &exitErr) {
			s.conn.drop(client)
		}
		return nil, fmt.Errorf("run %q on %s: %w", s.Command, s.conn.opts.Addr, err)
	}

	parse := s.Parser
	if parse == nil {
		parse = ParseKeyValues
	}
	metrics, err := parse(&b)
	if len(metrics) == 0 {
		if err == nil {
			err = errors.New("no metrics in output")
		}
		return nil, err
	}
	return metrics, nil
}

func (s *SSHCollector) Close() error {
	return s.conn.Close()
}
