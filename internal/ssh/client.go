package ssh

import (
	"context"
	"fmt"
	"net"
	"time"

	gossh "golang.org/x/crypto/ssh"
)

// Credential is the opaque auth material handed over by the credential
// store. The core never persists it.
type Credential struct {
	User       string
	Password   string
	PrivateKey []byte // PEM-encoded; takes precedence over Password when set
}

// CredentialStore is the external collaborator that owns secrets. It is
// consulted on every (re)connect so rotated credentials take effect without
// restarting the app.
type CredentialStore interface {
	GetCredential() (Credential, error)
}

// transportClient is the narrow surface of the underlying SSH client the
// Connection drives. Tests substitute a fake; production uses *ssh.Client.
type transportClient interface {
	// Exec runs a one-shot command on a fresh session over the existing
	// authenticated client and returns combined output.
	Exec(ctx context.Context, command string) ([]byte, error)
	// OpenShell opens an interactive pty sub-channel and starts command
	// on it (an empty command starts the login shell).
	OpenShell(ctx context.Context, command string, cols, rows int) (*Channel, error)
	// Keepalive sends a lightweight request and waits for the reply.
	Keepalive() error
	// Wait blocks until the transport dies, returning the cause.
	Wait() error
	Close() error
}

// dialer establishes an authenticated transport. Injectable for tests.
type dialer func(ctx context.Context, cfg Config, cred Credential) (transportClient, error)

// sshDial is the production dialer built on golang.org/x/crypto/ssh.
func sshDial(ctx context.Context, cfg Config, cred Credential) (transportClient, error) {
	var methods []gossh.AuthMethod
	if len(cred.PrivateKey) > 0 {
		signer, err := gossh.ParsePrivateKey(cred.PrivateKey)
		if err != nil {
			return nil, &AuthError{Err: fmt.Errorf("parse private key: %w", err)}
		}
		methods = append(methods, gossh.PublicKeys(signer))
	}
	if cred.Password != "" {
		methods = append(methods, gossh.Password(cred.Password))
	}
	if len(methods) == 0 {
		return nil, &AuthError{Err: fmt.Errorf("credential has no auth material")}
	}

	clientCfg := &gossh.ClientConfig{
		User:            cred.User,
		Auth:            methods,
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
		Timeout:         cfg.ConnectTimeout,
	}
	if cfg.HostKeyCallback != nil {
		clientCfg.HostKeyCallback = cfg.HostKeyCallback
	}

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	d := net.Dialer{Timeout: cfg.ConnectTimeout}
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, classifyDialError(err)
	}
	sshConn, chans, reqs, err := gossh.NewClientConn(netConn, addr, clientCfg)
	if err != nil {
		netConn.Close()
		return nil, classifyDialError(err)
	}
	return &realClient{client: gossh.NewClient(sshConn, chans, reqs)}, nil
}

// realClient adapts *ssh.Client to transportClient.
type realClient struct {
	client *gossh.Client
}

func (r *realClient) Exec(ctx context.Context, command string) ([]byte, error) {
	sess, err := r.client.NewSession()
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("open exec channel: %w", err)}
	}
	defer sess.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := sess.CombinedOutput(command)
		done <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		// Closing the session unblocks CombinedOutput.
		sess.Close()
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			// Non-zero exit still carries useful output (probe sentinels
			// are printed regardless of exit status).
			if _, ok := res.err.(*gossh.ExitError); ok {
				return res.out, nil
			}
			return res.out, &NetworkError{Err: res.err}
		}
		return res.out, nil
	}
}

func (r *realClient) OpenShell(ctx context.Context, command string, cols, rows int) (*Channel, error) {
	sess, err := r.client.NewSession()
	if err != nil {
		return nil, &NetworkError{Err: fmt.Errorf("open shell channel: %w", err)}
	}

	modes := gossh.TerminalModes{
		gossh.ECHO:          1,
		gossh.TTY_OP_ISPEED: 14400,
		gossh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm-256color", rows, cols, modes); err != nil {
		sess.Close()
		return nil, &ProtocolError{Err: fmt.Errorf("request pty: %w", err)}
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if command != "" {
		err = sess.Start(command)
	} else {
		err = sess.Shell()
	}
	if err != nil {
		sess.Close()
		return nil, &NetworkError{Err: fmt.Errorf("start shell: %w", err)}
	}

	return &Channel{
		stdout: stdout,
		stdin:  stdin,
		resizeFn: func(cols, rows int) error {
			return sess.WindowChange(rows, cols)
		},
		closeFn: sess.Close,
		done:    make(chan struct{}),
	}, nil
}

func (r *realClient) Keepalive() error {
	// OpenSSH answers this request even though it is unknown; what matters
	// is that a reply comes back at all.
	_, _, err := r.client.SendRequest("keepalive@openssh.com", true, nil)
	return err
}

func (r *realClient) Wait() error {
	return r.client.Wait()
}

func (r *realClient) Close() error {
	return r.client.Close()
}

// keepaliveTimeout bounds how long a keepalive reply may take before the
// attempt counts as missed.
const keepaliveTimeout = 10 * time.Second
