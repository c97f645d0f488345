package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/sync/errgroup"
)

// Host is one inventory entry reachable over SSH.
type Host struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port" validate:"min=0,max=65535"`
	User    string `yaml:"user"`
	KeyPath string `yaml:"key_path"`
}

// SSHOptions tune the SSH transport.
type SSHOptions struct {
	// KeyPath is used for hosts that do not set their own key.
	KeyPath string `yaml:"key_path"`
	// KnownHosts enables host key checking against an OpenSSH file.
	KnownHosts  string `yaml:"known_hosts"`
	Concurrency int    `yaml:"concurrency" validate:"min=0"`
}

// SSH runs commands on inventory hosts.
type SSH struct {
	hosts  map[string]Host
	opts   SSHOptions
	logger *slog.Logger
}

// NewSSH creates an SSH transport over an inventory of named hosts.
func NewSSH(hosts map[string]Host, opts SSHOptions, logger *slog.Logger) *SSH {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 32
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SSH{hosts: hosts, opts: opts, logger: logger}
}

// Names lists the inventory, sorted.
func (s *SSH) Names() []string {
	return slices.Sorted(maps.Keys(s.hosts))
}

func (s *SSH) ResolveTargets(_ context.Context, selector, mode string) ([]string, error) {
	return Match(s.Names(), selector, mode)
}

func (s *SSH) Dispatch(ctx context.Context, selector, mode string, command map[string]any, timeout time.Duration) (map[string]Response, error) {
	cmd, err := ParseCommand(command)
	if err != nil {
		return nil, err
	}
	line, err := cmd.Line()
	if err != nil {
		return nil, err
	}
	targets, err := s.ResolveTargets(ctx, selector, mode)
	if err != nil {
		return nil, err
	}
	hostKeys, err := s.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		mu  sync.Mutex
		out = make(map[string]Response, len(targets))
	)
	g := new(errgroup.Group)
	g.SetLimit(s.opts.Concurrency)
	for _, name := range targets {
		g.Go(func() error {
			resp, err := s.run(ctx, name, s.hosts[name], hostKeys, line)
			if err != nil {
				s.logger.Debug("no answer from host", "target", name, "error", err)
				return nil
			}
			mu.Lock()
			out[name] = resp
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

func (s *SSH) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if s.opts.KnownHosts == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(s.opts.KnownHosts)
	if err != nil {
		return nil, fmt.Errorf("loading known hosts: %w", err)
	}
	return cb, nil
}

func (s *SSH) clientConfig(h Host, hostKeys ssh.HostKeyCallback) (*ssh.ClientConfig, error) {
	keyPath := strings.TrimSpace(h.KeyPath)
	if keyPath == "" {
		keyPath = s.opts.KeyPath
	}
	if keyPath == "" {
		return nil, fmt.Errorf("missing ssh key path")
	}
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parsing key %s: %w", keyPath, err)
	}
	user := h.User
	if user == "" {
		user = "root"
	}
	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         10 * time.Second,
	}, nil
}

func (s *SSH) run(ctx context.Context, name string, h Host, hostKeys ssh.HostKeyCallback, line string) (Response, error) {
	config, err := s.clientConfig(h, hostKeys)
	if err != nil {
		return Response{}, err
	}
	address := h.Address
	if address == "" {
		address = name
	}
	port := h.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(address, strconv.Itoa(port))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Response{}, err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	cc, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return Response{}, err
	}
	client := ssh.NewClient(cc, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Response{}, err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	err = session.Run(line)
	if ctx.Err() != nil {
		return Response{}, ctx.Err()
	}
	resp := Response{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			resp.ReturnCode = exitErr.ExitStatus()
			return resp, nil
		}
		return Response{}, err
	}
	return resp, nil
}
