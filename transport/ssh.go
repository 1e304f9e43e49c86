// Copyright 2026 The MCPanel Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHHost describes how to reach one server over SSH.
type SSHHost struct {
	Address      string
	User         string
	IdentityFile string
	KnownHosts   string

	// Command runs inside the PTY. "{dir}" expands to Directory,
	// shell-quoted.
	Command   string
	Directory string

	Term    string
	Columns int
	Rows    int
}

// SSH opens channels with golang.org/x/crypto/ssh. Each channel gets
// its own client connection so closing one never disturbs another.
type SSH struct {
	hosts       map[string]SSHHost
	logger      *slog.Logger
	dialTimeout time.Duration
}

// NewSSH returns an SSH transport for the given hosts.
func NewSSH(hosts map[string]SSHHost, logger *slog.Logger) *SSH {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SSH{hosts: hosts, logger: logger, dialTimeout: 15 * time.Second}
}

var _ Transport = (*SSH)(nil)

// Open dials server, allocates a PTY, and starts the attach command.
func (s *SSH) Open(ctx context.Context, server string) (Channel, error) {
	host, ok := s.hosts[server]
	if !ok {
		return nil, &Error{Server: server, Op: "open", Err: errors.New("no such host")}
	}
	client, err := s.dial(ctx, host)
	if err != nil {
		return nil, &Error{Server: server, Op: "open", Err: err}
	}

	channel, err := startPTY(client, host)
	if err != nil {
		client.Close()
		return nil, &Error{Server: server, Op: "open", Err: err}
	}
	s.logger.Info("ssh channel opened", "server", server, "address", host.Address)
	return channel, nil
}

// RunOnce dials server and runs command without a PTY.
func (s *SSH) RunOnce(ctx context.Context, server, command string) ([]byte, error) {
	host, ok := s.hosts[server]
	if !ok {
		return nil, &Error{Server: server, Op: "exec", Err: errors.New("no such host")}
	}
	client, err := s.dial(ctx, host)
	if err != nil {
		return nil, &Error{Server: server, Op: "exec", Err: err}
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, &Error{Server: server, Op: "exec", Err: err}
	}
	defer session.Close()

	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	var stderr bytes.Buffer
	session.Stderr = &stderr
	output, err := session.Output(command)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if message := strings.TrimSpace(stderr.String()); message != "" {
			err = fmt.Errorf("%w: %s", err, message)
		}
		return nil, &Error{Server: server, Op: "exec", Err: err}
	}
	return output, nil
}

func (s *SSH) dial(ctx context.Context, host SSHHost) (*ssh.Client, error) {
	config, err := clientConfig(host)
	if err != nil {
		return nil, err
	}
	dialer := net.Dialer{Timeout: s.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", host.Address)
	if err != nil {
		return nil, err
	}
	// Bound the handshake by the context as well as the timeout.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	clientConn, channels, requests, err := ssh.NewClientConn(conn, host.Address, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", host.Address, err)
	}
	return ssh.NewClient(clientConn, channels, requests), nil
}

func clientConfig(host SSHHost) (*ssh.ClientConfig, error) {
	keyData, err := os.ReadFile(host.IdentityFile)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parsing identity file %s: %w", host.IdentityFile, err)
	}
	hostKeyCallback, err := knownhosts.New(host.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("loading known hosts %s: %w", host.KnownHosts, err)
	}
	return &ssh.ClientConfig{
		User:            host.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         15 * time.Second,
	}, nil
}

func startPTY(client *ssh.Client, host SSHHost) (*sshChannel, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, err
	}
	term := host.Term
	if term == "" {
		term = "xterm-256color"
	}
	columns, rows := host.Columns, host.Rows
	if columns <= 0 {
		columns = 200
	}
	if rows <= 0 {
		rows = 50
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty(term, rows, columns, modes); err != nil {
		session.Close()
		return nil, fmt.Errorf("requesting pty: %w", err)
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return nil, err
	}
	command := ExpandCommand(host.Command, host.Directory)
	if command == "" {
		err = session.Shell()
	} else {
		err = session.Start(command)
	}
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("starting %q: %w", command, err)
	}
	return &sshChannel{client: client, session: session, stdin: stdin, stdout: stdout}, nil
}

type sshChannel struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader

	closeOnce sync.Once
}

func (c *sshChannel) Read(p []byte) (int, error)  { return c.stdout.Read(p) }
func (c *sshChannel) Write(p []byte) (int, error) { return c.stdin.Write(p) }

func (c *sshChannel) Resize(columns, rows int) error {
	return c.session.WindowChange(rows, columns)
}

func (c *sshChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.session.Close()
		err = c.client.Close()
	})
	return err
}
