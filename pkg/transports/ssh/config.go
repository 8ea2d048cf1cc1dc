package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	DefaultPort              = 22
	DefaultConnectionTimeout = 30 * time.Second
	DefaultStagingDir        = "/tmp/workorders"
)

// Config describes the build host that runs the provisioning tool.
// An empty Host means provisioning runs locally.
type Config struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port" validate:"omitempty,gte=1,lte=65535"`
	User string `yaml:"user" json:"user"`

	// Exactly one of Password or PrivateKeyPath is used; the key wins.
	Password             string `yaml:"password,omitempty" json:"-"`
	PrivateKeyPath       string `yaml:"private_key_path,omitempty" json:"private_key_path,omitempty"`
	PrivateKeyPassphrase string `yaml:"private_key_passphrase,omitempty" json:"-"`

	KnownHostsPath        string `yaml:"known_hosts_path,omitempty" json:"known_hosts_path,omitempty"`
	StrictHostKeyChecking bool   `yaml:"strict_host_key_checking" json:"strict_host_key_checking"`

	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout"`

	// StagingDir is where per-run inputs are uploaded on the build host.
	StagingDir string `yaml:"staging_dir" json:"staging_dir"`
}

// Enabled reports whether a build host is configured.
func (c Config) Enabled() bool {
	return c.Host != ""
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = DefaultConnectionTimeout
	}
	if c.StagingDir == "" {
		c.StagingDir = DefaultStagingDir
	}
	return c
}

// Validate checks a configuration that is Enabled.
func (c Config) Validate() error {
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.User == "" {
		return errors.New("user is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Password == "" && c.PrivateKeyPath == "" {
		return errors.New("either password or private_key_path is required")
	}
	if c.StrictHostKeyChecking && c.KnownHostsPath == "" {
		return errors.New("known_hosts_path is required with strict_host_key_checking")
	}
	if c.ConnectionTimeout < 0 {
		return errors.New("connection_timeout must not be negative")
	}
	return nil
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ClientConfig builds the x/crypto/ssh client configuration.
func (c Config) ClientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod

	if c.PrivateKeyPath != "" {
		keyBytes, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}

		var signer ssh.Signer
		if c.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(c.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	} else {
		password := c.Password
		auth = append(auth,
			ssh.Password(password),
			// Many servers only offer keyboard-interactive for passwords.
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if c.StrictHostKeyChecking {
		cb, err := knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectionTimeout,
	}, nil
}
