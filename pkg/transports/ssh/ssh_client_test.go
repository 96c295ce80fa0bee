package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// testSSHServer is a minimal SSH server that runs exec requests through the
// local /bin/sh and serves the sftp subsystem from the local file system.
type testSSHServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	hostKey  ssh.PublicKey
	addr     string

	mu       sync.Mutex
	commands []string
}

func newTestSSHServer(t *testing.T) *testSSHServer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	hostKey, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("failed to create public key: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "testuser" && string(pass) == "testpass" {
				return nil, nil
			}
			return nil, fmt.Errorf("invalid credentials")
		},
		PublicKeyCallback: func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	s := &testSSHServer{listener: listener, config: config, hostKey: hostKey, addr: listener.Addr().String()}
	go s.serve()
	t.Cleanup(func() { listener.Close() })
	return s
}

func (s *testSSHServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConnection(conn)
	}
}

func (s *testSSHServer) handleConnection(netConn net.Conn) {
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.handleChannel(channel, requests)
	}
}

func (s *testSSHServer) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	for req := range requests {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			s.mu.Lock()
			s.commands = append(s.commands, payload.Command)
			s.mu.Unlock()
			go s.exec(channel, payload.Command)

		case "subsystem":
			var payload struct{ Name string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil || payload.Name != "sftp" {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)
			go func() {
				defer channel.Close()
				server, err := sftp.NewServer(channel)
				if err != nil {
					return
				}
				_ = server.Serve()
			}()

		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func (s *testSSHServer) exec(channel ssh.Channel, command string) {
	defer channel.Close()

	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Stdin = channel
	cmd.Stdout = channel
	cmd.Stderr = channel.Stderr()

	status := 0
	if err := cmd.Run(); err != nil {
		status = 255
		if exitErr, ok := err.(*exec.ExitError); ok {
			status = exitErr.ExitCode()
		}
	}
	channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
}

func (s *testSSHServer) ran() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *testSSHServer) newConfig(t *testing.T) *Config {
	t.Helper()
	host, port := parseAddress(s.addr)
	config := DefaultConfig(host, "testuser")
	config.Port = port
	config.AuthMethod = AuthMethodPassword
	config.Password = "testpass"
	config.StrictHostKeyChecking = false
	config.ConnectionTimeout = 5 * time.Second
	config.WorkDir = t.TempDir()
	return config
}

func TestDial(t *testing.T) {
	server := newTestSSHServer(t)
	ctx := context.Background()

	t.Run("password", func(t *testing.T) {
		client, err := Dial(ctx, server.newConfig(t), nil)
		if err != nil {
			t.Fatalf("failed to connect: %v", err)
		}
		if err := client.Close(); err != nil {
			t.Errorf("close failed: %v", err)
		}
		if err := client.Close(); err != nil {
			t.Errorf("second close failed: %v", err)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		config := server.newConfig(t)
		config.Password = "wrong"
		if _, err := Dial(ctx, config, nil); err == nil {
			t.Error("expected authentication to fail")
		}
	})

	t.Run("key", func(t *testing.T) {
		config := server.newConfig(t)
		config.AuthMethod = AuthMethodKey
		config.PrivateKeyPath = writeTestKey(t)
		client, err := Dial(ctx, config, nil)
		if err != nil {
			t.Fatalf("failed to connect with key auth: %v", err)
		}
		client.Close()
	})

	t.Run("known host", func(t *testing.T) {
		config := server.newConfig(t)
		config.StrictHostKeyChecking = true
		config.KnownHostsPath = filepath.Join(t.TempDir(), "known_hosts")
		line := knownhosts.Line([]string{server.addr}, server.hostKey) + "\n"
		if err := os.WriteFile(config.KnownHostsPath, []byte(line), 0o600); err != nil {
			t.Fatal(err)
		}
		client, err := Dial(ctx, config, nil)
		if err != nil {
			t.Fatalf("failed to connect to known host: %v", err)
		}
		client.Close()
	})

	t.Run("unknown host", func(t *testing.T) {
		config := server.newConfig(t)
		config.StrictHostKeyChecking = true
		config.KnownHostsPath = filepath.Join(t.TempDir(), "known_hosts")
		if err := os.WriteFile(config.KnownHostsPath, nil, 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := Dial(ctx, config, nil); err == nil {
			t.Error("expected host key verification to fail")
		}
	})
}

func TestClientExec(t *testing.T) {
	server := newTestSSHServer(t)
	ctx := context.Background()

	client, err := Dial(ctx, server.newConfig(t), nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	tests := []struct {
		name       string
		cmd        string
		stdin      string
		wantStdout string
		wantStderr string
		wantCode   int
	}{
		{name: "stdout", cmd: "echo test", wantStdout: "test\n"},
		{name: "stderr", cmd: "echo error >&2", wantStderr: "error\n"},
		{name: "stdin", cmd: "cat", stdin: `{"names":[]}`, wantStdout: `{"names":[]}`},
		{name: "exit status", cmd: "exit 3", wantCode: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr, code, err := client.Exec(ctx, tt.cmd, []byte(tt.stdin))
			if err != nil {
				t.Fatalf("command failed: %v", err)
			}
			if string(stdout) != tt.wantStdout {
				t.Errorf("expected stdout %q, got %q", tt.wantStdout, stdout)
			}
			if string(stderr) != tt.wantStderr {
				t.Errorf("expected stderr %q, got %q", tt.wantStderr, stderr)
			}
			if code != tt.wantCode {
				t.Errorf("expected exit code %d, got %d", tt.wantCode, code)
			}
		})
	}
}

func TestTarget(t *testing.T) {
	server := newTestSSHServer(t)
	ctx := context.Background()

	config := server.newConfig(t)
	target, err := Open(ctx, config)
	if err != nil {
		t.Fatalf("failed to open target: %v", err)
	}

	script := filepath.Join(t.TempDir(), "echo.prov")
	body := "#!/bin/sh\necho \"$1\"\ncat\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	remote, err := target.Stage(ctx, script)
	if err != nil {
		t.Fatalf("stage failed: %v", err)
	}
	if !strings.HasPrefix(remote, filepath.Join(config.WorkDir, "ral.")) || filepath.Base(remote) != "echo.prov" {
		t.Errorf("unexpected staged path %s", remote)
	}
	again, err := target.Stage(ctx, script)
	if err != nil || again != remote {
		t.Errorf("second stage = %s, %v", again, err)
	}
	info, err := os.Stat(remote)
	if err != nil {
		t.Fatalf("staged file missing: %v", err)
	}
	if info.Mode().Perm() != 0o700 {
		t.Errorf("expected mode 0700, got %v", info.Mode().Perm())
	}

	res, err := target.Run(ctx, remote, []string{"ral_action=it's"}, []byte("input"))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if string(res.Stdout) != "ral_action=it's\ninput" || res.ExitCode != 0 {
		t.Errorf("unexpected result %q, exit %d", res.Stdout, res.ExitCode)
	}

	if err := target.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(remote)); !os.IsNotExist(err) {
		t.Errorf("expected staging directory to be removed, got %v", err)
	}

	mktemp := 0
	for _, c := range server.ran() {
		if strings.HasPrefix(c, "mktemp -d ") {
			mktemp++
		}
	}
	if mktemp != 1 {
		t.Errorf("expected one mktemp, got %d", mktemp)
	}
}

func TestTargetSudo(t *testing.T) {
	server := newTestSSHServer(t)
	ctx := context.Background()

	config := server.newConfig(t)
	config.Sudo = true
	target, err := Open(ctx, config)
	if err != nil {
		t.Fatalf("failed to open target: %v", err)
	}
	defer target.Close()

	_, _ = target.Run(ctx, "/bin/true", []string{"ral_action=list"}, nil)
	cmds := server.ran()
	if len(cmds) == 0 || cmds[len(cmds)-1] != "sudo -n '/bin/true' 'ral_action=list'" {
		t.Errorf("unexpected commands %v", cmds)
	}
}

// parseAddress splits an address into host and port.
func parseAddress(addr string) (string, int) {
	host, portStr, _ := net.SplitHostPort(addr)
	port := 0
	fmt.Sscanf(portStr, "%d", &port)
	return host, port
}
