package services

import (
	"bufio"
	"context"
	"net"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSMTP accepts a single message and keeps the DATA payload.
type fakeSMTP struct {
	ln   net.Listener
	mu   sync.Mutex
	data string
	rcpt string
	done chan struct{}
}

func startFakeSMTP(t *testing.T) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeSMTP{ln: ln, done: make(chan struct{})}
	t.Cleanup(func() { ln.Close() })

	go func() {
		defer close(s.done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		tp := textproto.NewConn(conn)
		tp.PrintfLine("220 localhost ready")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				return
			}
			cmd := strings.ToUpper(line)
			switch {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				tp.PrintfLine("250 localhost")
			case strings.HasPrefix(cmd, "MAIL FROM"):
				tp.PrintfLine("250 OK")
			case strings.HasPrefix(cmd, "RCPT TO"):
				s.mu.Lock()
				s.rcpt = line
				s.mu.Unlock()
				tp.PrintfLine("250 OK")
			case cmd == "DATA":
				tp.PrintfLine("354 go ahead")
				body, err := tp.ReadDotLines()
				if err != nil {
					return
				}
				s.mu.Lock()
				s.data = strings.Join(body, "\n")
				s.mu.Unlock()
				tp.PrintfLine("250 queued")
			case cmd == "QUIT":
				tp.PrintfLine("221 bye")
				return
			default:
				tp.PrintfLine("502 not implemented")
			}
		}
	}()
	return s
}

func writeMailTemplates(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "otp.html"), []byte(`<p>Hi {{.Name}}, your code is <b>{{.Code}}</b></p>`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reset.html"), []byte(`<a href="{{.Link}}">reset</a>`), 0o644))
	return dir
}

func TestMailServiceNotifySendsOverSMTP(t *testing.T) {
	srv := startFakeSMTP(t)
	host, port, err := net.SplitHostPort(srv.ln.Addr().String())
	require.NoError(t, err)

	m := &MailService{
		Host:        host,
		Port:        port,
		From:        "noreply@blog.test",
		Enabled:     true,
		TemplateDir: writeMailTemplates(t),
		DialTimeout: 2 * time.Second,
		Logger:      discardLogger(),
	}
	ok := m.Notify(context.Background(), KindOTP, "jane@example.com", map[string]any{"Name": "Jane", "Code": "123456"})
	require.True(t, ok)

	select {
	case <-srv.done:
	case <-time.After(5 * time.Second):
		t.Fatal("smtp session did not finish")
	}
	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Contains(t, srv.rcpt, "jane@example.com")
	assert.Contains(t, srv.data, "Subject: Your Bloglytics verification code")
	assert.Contains(t, srv.data, "<b>123456</b>")
}

func TestMailServiceNotifyFailures(t *testing.T) {
	m := &MailService{
		Host:        "127.0.0.1",
		Port:        "1",
		From:        "noreply@blog.test",
		Enabled:     false,
		TemplateDir: writeMailTemplates(t),
		DialTimeout: 200 * time.Millisecond,
		Logger:      discardLogger(),
	}
	ctx := context.Background()
	assert.False(t, m.Notify(ctx, KindOTP, "a@example.com", nil), "disabled")

	m.Enabled = true
	assert.False(t, m.Notify(ctx, "sms", "a@example.com", nil), "unknown kind")
	assert.False(t, m.Notify(ctx, KindPasswordReset, "a@example.com", map[string]any{"Link": "x"}), "connection refused")
}

func TestBuildMessageHeaders(t *testing.T) {
	msg := string(buildMessage("from@x.test", "to@x.test", "Hello", "<p>hi</p>"))
	r := textproto.NewReader(bufio.NewReader(strings.NewReader(msg)))
	h, err := r.ReadMIMEHeader()
	require.NoError(t, err)
	assert.Equal(t, "to@x.test", h.Get("To"))
	assert.Equal(t, "Hello", h.Get("Subject"))
	assert.Contains(t, h.Get("Content-Type"), "text/html")
}
