package remoteexec

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/shipfleet/voyage/pkg/log"
)

// SSHExec implements RemoteExec over golang.org/x/crypto/ssh, the default
// channel used by every provider backend. Each call dials a fresh client;
// connection reuse is an implementation freedom the contract leaves open,
// and a fresh dial per call keeps the failure mode simple ("the VM wasn't
// reachable") instead of papering over a dead pooled connection.
type SSHExec struct {
	Signer        ssh.Signer
	PrivateKeyPEM []byte // retained so Interactive can hand a key file to the ssh binary
	DialTimeout   time.Duration
}

// NewSSHExec builds an SSHExec authenticating with the given private key.
func NewSSHExec(signer ssh.Signer, privateKeyPEM []byte) *SSHExec {
	return &SSHExec{Signer: signer, PrivateKeyPEM: privateKeyPEM, DialTimeout: 30 * time.Second}
}

func (s *SSHExec) dial(dest Dest) (*ssh.Client, error) {
	port := dest.Port
	if port == 0 {
		port = 22
	}
	user := dest.User
	if user == "" {
		user = "voyage"
	}
	cfg := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(s.Signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // ships are ephemeral, never re-keyed
		Timeout:         s.DialTimeout,
	}
	addr := net.JoinHostPort(dest.Host, strconv.Itoa(port))
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("remoteexec: dial %s (%s): %w", dest.Name, addr, err)
	}
	return client, nil
}

func (s *SSHExec) Run(ctx context.Context, dest Dest, command string) (Result, error) {
	client, err := s.dial(dest)
	if err != nil {
		return Result{}, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("remoteexec: session on %s: %w", dest.Name, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return Result{}, fmt.Errorf("remoteexec: run on %s: %w", dest.Name, ctx.Err())
	case runErr := <-done:
		exitCode := 0
		if runErr != nil {
			var exitErr *ssh.ExitError
			if ok := asExitError(runErr, &exitErr); ok {
				exitCode = exitErr.ExitStatus()
			} else {
				return Result{}, fmt.Errorf("remoteexec: exec on %s: %w", dest.Name, runErr)
			}
		}
		return Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: exitCode}, nil
	}
}

func asExitError(err error, target **ssh.ExitError) bool {
	if ee, ok := err.(*ssh.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

func (s *SSHExec) Put(ctx context.Context, dest Dest, content io.Reader, remotePath string) error {
	client, err := s.dial(dest)
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("remoteexec: session on %s: %w", dest.Name, err)
	}
	defer session.Close()

	stdin, err := session.StdinPipe()
	if err != nil {
		return fmt.Errorf("remoteexec: stdin pipe on %s: %w", dest.Name, err)
	}

	if err := session.Start(fmt.Sprintf("mkdir -p %q && cat > %q", dirOf(remotePath), remotePath)); err != nil {
		return fmt.Errorf("remoteexec: start put on %s: %w", dest.Name, err)
	}

	if _, err := io.Copy(stdin, content); err != nil {
		return fmt.Errorf("remoteexec: write put content to %s: %w", dest.Name, err)
	}
	stdin.Close()

	if err := session.Wait(); err != nil {
		return fmt.Errorf("remoteexec: put %s on %s: %w", remotePath, dest.Name, err)
	}
	return nil
}

func (s *SSHExec) Get(ctx context.Context, dest Dest, remotePath string) ([]byte, error) {
	res, err := s.Run(ctx, dest, fmt.Sprintf("cat %q", remotePath))
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("remoteexec: get %s on %s: exit %d: %s", remotePath, dest.Name, res.ExitCode, res.Stderr)
	}
	return []byte(res.Stdout), nil
}

func (s *SSHExec) Stream(ctx context.Context, dest Dest, command string) (<-chan string, <-chan error) {
	lines := make(chan string)
	errc := make(chan error, 1)

	go func() {
		defer close(lines)
		defer close(errc)

		client, err := s.dial(dest)
		if err != nil {
			errc <- err
			return
		}
		defer client.Close()

		session, err := client.NewSession()
		if err != nil {
			errc <- fmt.Errorf("remoteexec: session on %s: %w", dest.Name, err)
			return
		}
		defer session.Close()

		stdout, err := session.StdoutPipe()
		if err != nil {
			errc <- fmt.Errorf("remoteexec: stdout pipe on %s: %w", dest.Name, err)
			return
		}

		if err := session.Start(command); err != nil {
			errc <- fmt.Errorf("remoteexec: start stream on %s: %w", dest.Name, err)
			return
		}

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)

		go func() {
			<-ctx.Done()
			session.Signal(ssh.SIGKILL)
		}()

		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := session.Wait(); err != nil && ctx.Err() == nil {
			errc <- fmt.Errorf("remoteexec: stream on %s: %w", dest.Name, err)
		}
	}()

	return lines, errc
}

// Interactive replaces the current process with an interactive shell on
// dest. Only `shell` calls this; it is the one operation the control plane
// does not wrap in a timeout or retry policy.
func (s *SSHExec) Interactive(dest Dest) error {
	user := dest.User
	if user == "" {
		user = "voyage"
	}
	port := dest.Port
	if port == 0 {
		port = 22
	}
	keyPath, err := writeTempKey(s.PrivateKeyPEM)
	if err != nil {
		return err
	}
	defer os.Remove(keyPath)

	sshBin, err := exec.LookPath("ssh")
	if err != nil {
		return fmt.Errorf("remoteexec: ssh binary not found: %w", err)
	}

	log.WithComponent("remoteexec").Debug().
		Str("dest", dest.Name).
		Str("addr", net.JoinHostPort(dest.Host, strconv.Itoa(port))).
		Msg("opening interactive shell")

	args := []string{"ssh", "-i", keyPath, "-o", "StrictHostKeyChecking=no", "-o", "UserKnownHostsFile=/dev/null", "-p", strconv.Itoa(port), fmt.Sprintf("%s@%s", user, dest.Host)}
	return syscall.Exec(sshBin, args, os.Environ())
}

func writeTempKey(pem []byte) (string, error) {
	f, err := os.CreateTemp("", "voyage-ssh-key-*")
	if err != nil {
		return "", fmt.Errorf("remoteexec: create temp key file: %w", err)
	}
	defer f.Close()
	if err := f.Chmod(0600); err != nil {
		return "", fmt.Errorf("remoteexec: chmod temp key file: %w", err)
	}
	if _, err := f.Write(pem); err != nil {
		return "", fmt.Errorf("remoteexec: write temp key file: %w", err)
	}
	return f.Name(), nil
}

func dirOf(path string) string {
	i := bytes.LastIndexByte([]byte(path), '/')
	if i <= 0 {
		return "."
	}
	return path[:i]
}
