package mailer

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeSMTPServer struct {
	ln       net.Listener
	reject   string
	stallOn  string
	mu       sync.Mutex
	accepted int
	messages []string
	commands []string
	done     chan struct{}
}

func startFakeSMTP(t *testing.T, reject string) *fakeSMTPServer {
	t.Helper()
	return startFakeSMTPWith(t, &fakeSMTPServer{reject: reject})
}

// startStallingSMTP answers normally until it sees stallOn, then stops
// replying while still reading whatever the client sends.
func startStallingSMTP(t *testing.T, stallOn string) *fakeSMTPServer {
	t.Helper()
	return startFakeSMTPWith(t, &fakeSMTPServer{stallOn: stallOn})
}

func startFakeSMTPWith(t *testing.T, srv *fakeSMTPServer) *fakeSMTPServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv.ln = ln
	srv.done = make(chan struct{})
	go srv.serve()
	t.Cleanup(func() {
		ln.Close()
		<-srv.done
	})
	return srv
}

func (s *fakeSMTPServer) serve() {
	defer close(s.done)
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.accepted++
		s.mu.Unlock()
		s.handle(conn)
	}
}

func (s *fakeSMTPServer) handle(conn net.Conn) {
	defer conn.Close()
	tp := textproto.NewConn(conn)
	tp.PrintfLine("220 fake.local ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		cmd := strings.ToUpper(line)
		s.mu.Lock()
		s.commands = append(s.commands, strings.Fields(cmd)[0])
		s.mu.Unlock()

		if s.stallOn != "" && strings.HasPrefix(cmd, s.stallOn) {
			for {
				if _, err := tp.ReadLine(); err != nil {
					return
				}
			}
		}

		switch {
		case strings.HasPrefix(cmd, "EHLO"):
			tp.PrintfLine("250-fake.local")
			tp.PrintfLine("250 8BITMIME")
		case strings.HasPrefix(cmd, "HELO"):
			tp.PrintfLine("250 fake.local")
		case strings.HasPrefix(cmd, "MAIL FROM"):
			tp.PrintfLine("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO"):
			if s.reject != "" && strings.Contains(line, s.reject) {
				tp.PrintfLine("550 mailbox unavailable")
				continue
			}
			tp.PrintfLine("250 OK")
		case cmd == "DATA":
			tp.PrintfLine("354 end with .")
			lines, err := tp.ReadDotLines()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.messages = append(s.messages, strings.Join(lines, "\n"))
			s.mu.Unlock()
			tp.PrintfLine("250 queued")
		case cmd == "RSET", cmd == "NOOP":
			tp.PrintfLine("250 OK")
		case cmd == "QUIT":
			tp.PrintfLine("221 bye")
			return
		default:
			tp.PrintfLine("502 not implemented")
		}
	}
}

func (s *fakeSMTPServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func TestSMTPTransportReusesOneConnection(t *testing.T) {
	srv := startFakeSMTP(t, "bounce@example.com")
	transport := NewSMTPTransport(SMTPConfig{
		Host:     "127.0.0.1",
		Port:     srv.port(),
		From:     "news@example.com",
		FromName: "Field Notes",
		TLSMode:  "none",
		Timeout:  2 * time.Second,
	})

	ctx := context.Background()
	conn, err := transport.Connect(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	msg := Message{To: "reader@example.com", Subject: "Hello", HTML: "<p>hi</p>", Text: "hi", ListUnsubscribe: "https://example.com/u?t=1"}
	if err := conn.Send(ctx, msg); err != nil {
		t.Fatalf("first send: %v", err)
	}

	msg.To = "bounce@example.com"
	err = conn.Send(ctx, msg)
	if err == nil {
		t.Fatal("expected rejected recipient to fail")
	}
	if errors.Is(err, ErrConnectionLost) {
		t.Fatalf("expected per-recipient error, got connection loss: %v", err)
	}

	msg.To = "second@example.com"
	if err := conn.Send(ctx, msg); err != nil {
		t.Fatalf("send after rejection: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	srv.ln.Close()
	<-srv.done

	if srv.accepted != 1 {
		t.Fatalf("expected one connection, got %d", srv.accepted)
	}
	if len(srv.messages) != 2 {
		t.Fatalf("expected two delivered messages, got %d", len(srv.messages))
	}
	first := srv.messages[0]
	for _, want := range []string{"List-Unsubscribe: <https://example.com/u?t=1>", "multipart/alternative", "text/plain", "text/html"} {
		if !strings.Contains(first, want) {
			t.Fatalf("expected %q in message:\n%s", want, first)
		}
	}
	var rsets int
	for _, c := range srv.commands {
		if c == "RSET" {
			rsets++
		}
	}
	if rsets != 1 {
		t.Fatalf("expected one RSET after rejection, got %d", rsets)
	}
}

func TestSMTPTransportConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	transport := NewSMTPTransport(SMTPConfig{Host: "127.0.0.1", Port: port, TLSMode: "none", Timeout: time.Second})
	if _, err := transport.Connect(context.Background()); err == nil {
		t.Fatal("expected connect to fail on closed port")
	}
}

func TestSMTPTransportTimesOutOnSilentServer(t *testing.T) {
	srv := startStallingSMTP(t, "RCPT TO")
	transport := NewSMTPTransport(SMTPConfig{
		Host:    "127.0.0.1",
		Port:    srv.port(),
		From:    "news@example.com",
		TLSMode: "none",
		Timeout: 200 * time.Millisecond,
	})

	ctx := context.Background()
	conn, err := transport.Connect(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	start := time.Now()
	err = conn.Send(ctx, Message{To: "reader@example.com", Subject: "Hello", Text: "hi"})
	if !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("expected connection loss after stall, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("send blocked for %v", elapsed)
	}

	// 连接作废后不再尝试使用
	if err := conn.Send(ctx, Message{To: "next@example.com", Subject: "Hello", Text: "hi"}); !errors.Is(err, ErrConnectionLost) {
		t.Fatalf("expected broken connection to refuse sends, got %v", err)
	}

	start = time.Now()
	conn.Close()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("close blocked for %v", elapsed)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	for _, c := range srv.commands {
		if c == "DATA" || c == "QUIT" {
			t.Fatalf("expected no %s after stall, got %v", c, srv.commands)
		}
	}
}

func TestSMTPTransportTimesOutOnSilentGreeting(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		// 接受连接但从不发送 220
		buf := make([]byte, 512)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()

	transport := NewSMTPTransport(SMTPConfig{
		Host:    "127.0.0.1",
		Port:    ln.Addr().(*net.TCPAddr).Port,
		TLSMode: "none",
		Timeout: 200 * time.Millisecond,
	})
	start := time.Now()
	if _, err := transport.Connect(context.Background()); err == nil {
		t.Fatal("expected connect to fail without greeting")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("connect blocked for %v", elapsed)
	}
}
