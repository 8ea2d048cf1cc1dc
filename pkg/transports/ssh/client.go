package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Client holds one lazily dialed connection to the build host.
type Client struct {
	cfg    Config
	logger zerolog.Logger

	mu   sync.Mutex
	conn *ssh.Client
}

// NewClient validates cfg. No connection is made until first use.
func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ssh config: %w", err)
	}
	return &Client{
		cfg:    cfg,
		logger: logger.With().Str("component", "ssh").Str("host", cfg.Address()).Logger(),
	}, nil
}

// connection returns the live connection, redialing when the previous one
// stopped answering keepalives.
func (c *Client) connection(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		if _, _, err := c.conn.SendRequest("keepalive@openssh.com", true, nil); err == nil {
			return c.conn, nil
		}
		_ = c.conn.Close()
		c.conn = nil
	}

	clientConfig, err := c.cfg.ClientConfig()
	if err != nil {
		return nil, err
	}

	type dialResult struct {
		conn *ssh.Client
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := ssh.Dial("tcp", c.cfg.Address(), clientConfig)
		ch <- dialResult{conn, err}
	}()

	select {
	case <-ctx.Done():
		// Close a connection that lands after we gave up.
		go func() {
			if r := <-ch; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		return nil, fmt.Errorf("failed to connect to %s: %w", c.cfg.Address(), ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", c.cfg.Address(), r.err)
		}
		c.conn = r.conn
		c.logger.Info().Msg("SSH connection established")
		return c.conn, nil
	}
}

// Exec runs a shell command and returns its exit code. Cancelling ctx
// signals the remote process and reports exit code -1.
func (c *Client) Exec(ctx context.Context, command string) (stdout, stderr string, exitCode int, err error) {
	conn, err := c.connection(ctx)
	if err != nil {
		return "", "", 0, err
	}

	session, err := conn.NewSession()
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var outBuf, errBuf bytes.Buffer
	session.Stdout = &outBuf
	session.Stderr = &errBuf

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			_ = session.Signal(ssh.SIGKILL)
		}
		return outBuf.String(), errBuf.String(), -1, nil
	case runErr = <-done:
	}

	if runErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(runErr, &exitErr) {
			return outBuf.String(), errBuf.String(), exitErr.ExitStatus(), nil
		}
		return outBuf.String(), errBuf.String(), 0, fmt.Errorf("remote command failed: %w", runErr)
	}
	return outBuf.String(), errBuf.String(), 0, nil
}

// Upload copies a local file to remotePath, creating parent directories.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string, mode os.FileMode) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer src.Close()
	return c.write(ctx, remotePath, src, mode)
}

// WriteFile writes data to remotePath, creating parent directories.
func (c *Client) WriteFile(ctx context.Context, remotePath string, data []byte, mode os.FileMode) error {
	return c.write(ctx, remotePath, bytes.NewReader(data), mode)
}

func (c *Client) write(ctx context.Context, remotePath string, src io.Reader, mode os.FileMode) error {
	conn, err := c.connection(ctx)
	if err != nil {
		return err
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		return fmt.Errorf("failed to create SFTP client: %w", err)
	}
	defer client.Close()

	if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
		return fmt.Errorf("failed to create %s: %w", path.Dir(remotePath), err)
	}

	dst, err := client.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", remotePath, err)
	}
	defer dst.Close()

	// Restrict before writing; the payload may hold credentials.
	if err := dst.Chmod(mode); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", remotePath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to upload %s: %w", remotePath, err)
	}

	c.logger.Debug().Str("path", remotePath).Msg("uploaded file")
	return nil
}

// Close drops the connection if one is open.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
