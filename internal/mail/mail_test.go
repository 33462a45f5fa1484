package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHelperMailClient stands in for the local mail client when the test
// binary is re-executed with "-- helper <mode> <client args...>".
func TestHelperMailClient(t *testing.T) {
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 3 || args[1] != "helper" {
		return
	}
	mode, rest := args[2], args[3:]
	switch mode {
	case "deliver":
		msg, _ := io.ReadAll(os.Stdin)
		out := fmt.Sprintf("ARGS %s\n%s", strings.Join(rest, " "), msg)
		if err := os.WriteFile(os.Getenv("REPORTFLOW_TEST_MAILBOX"), []byte(out), 0o644); err != nil {
			os.Exit(10)
		}
		os.Exit(0)
	case "reject":
		fmt.Fprintln(os.Stderr, "msmtp: recipient address bob@beta.test not accepted by the server")
		os.Exit(65)
	}
	os.Exit(99)
}

const pdfBytes = "%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n"

func writeClientConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "msmtprc")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const clientConfig = `# accounts
defaults
auth on
tls on

account personal
host smtp.example.com
from me@example.com

account work
host smtp.work.test
from reports@work.test

account default : personal
`

func TestParseAccounts(t *testing.T) {
	accounts, err := parseAccounts(strings.NewReader(clientConfig))
	require.NoError(t, err)
	assert.Equal(t, []Account{
		{Name: "personal", From: "me@example.com"},
		{Name: "work", From: "reports@work.test"},
	}, accounts)
}

func TestSelectAccount(t *testing.T) {
	accounts := []Account{
		{Name: "personal", From: "me@example.com"},
		{Name: "work", From: "reports@work.test"},
	}

	t.Run("priority by name", func(t *testing.T) {
		a, err := SelectAccount(accounts, []string{"missing", "WORK"})
		require.NoError(t, err)
		assert.Equal(t, "work", a.Name)
	})

	t.Run("priority by address", func(t *testing.T) {
		a, err := SelectAccount(accounts, []string{"reports@work.test"})
		require.NoError(t, err)
		assert.Equal(t, "work", a.Name)
	})

	t.Run("falls back to any account", func(t *testing.T) {
		a, err := SelectAccount(accounts, []string{"nobody@nowhere.test"})
		require.NoError(t, err)
		assert.Equal(t, "personal", a.Name)
	})

	t.Run("none", func(t *testing.T) {
		_, err := SelectAccount([]Account{{Name: "nofrom"}}, nil)
		assert.ErrorIs(t, err, ErrNoAccount)
	})
}

func TestRenderMessage(t *testing.T) {
	fs := memfs.New()
	require.NoError(t, util.WriteFile(fs, "reports/report.pdf", []byte(pdfBytes), 0o644))

	var buf bytes.Buffer
	err := Render(&buf, Message{
		To:         "bob@beta.test",
		Subject:    "Your report",
		Body:       "Dear Bob,\nplease find your report attached.",
		Attachment: "reports/report.pdf",
		FS:         fs,
	}, "reports@work.test")
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "reports@work.test")
	assert.Contains(t, out, "bob@beta.test")
	assert.Contains(t, out, "Subject: Your report")
	assert.Contains(t, out, "Dear Bob")
	assert.Contains(t, out, "application/pdf")
	assert.Contains(t, out, "report.pdf")
}

func TestRenderRejectsBadAddresses(t *testing.T) {
	err := Render(io.Discard, Message{To: "not-an-address"}, "me@example.com")
	assert.ErrorContains(t, err, "invalid recipient")

	err = Render(io.Discard, Message{To: "bob@beta.test"}, "")
	assert.ErrorContains(t, err, "invalid sender")
}

func TestRenderMissingAttachment(t *testing.T) {
	err := Render(io.Discard, Message{
		To:         "bob@beta.test",
		Attachment: "gone.pdf",
		FS:         memfs.New(),
	}, "me@example.com")
	assert.Error(t, err)
}

func helperClient(t *testing.T, mode string) *LocalClient {
	t.Helper()
	return &LocalClient{
		Command:    os.Args[0],
		PrefixArgs: []string{"-test.run=^TestHelperMailClient$", "--", "helper", mode},
		ConfigPath: writeClientConfig(t, clientConfig),
		Priority:   []string{"work"},
		Timeout:    20 * time.Second,
	}
}

func TestLocalClientSend(t *testing.T) {
	mailbox := filepath.Join(t.TempDir(), "mailbox")
	t.Setenv("REPORTFLOW_TEST_MAILBOX", mailbox)

	attachment := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(attachment, []byte(pdfBytes), 0o644))

	c := helperClient(t, "deliver")
	require.NoError(t, c.Check())

	err := c.Send(context.Background(), Message{
		To:         "bob@beta.test",
		Subject:    "Report",
		Body:       "hello",
		Attachment: attachment,
	})
	require.NoError(t, err)

	got, err := os.ReadFile(mailbox)
	require.NoError(t, err)
	assert.Contains(t, string(got), "-a work -t")
	assert.Contains(t, string(got), "-C "+c.ConfigPath)
	assert.Contains(t, string(got), "reports@work.test", "sender comes from the selected account")
	assert.Contains(t, string(got), "bob@beta.test")
}

func TestLocalClientSendFailure(t *testing.T) {
	c := helperClient(t, "reject")

	err := c.Send(context.Background(), Message{To: "bob@beta.test", Subject: "s", Body: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not accepted by the server")
	assert.Contains(t, err.Error(), "account work")
}

func TestLocalClientCheck(t *testing.T) {
	missing := &LocalClient{Command: "reportflow-no-such-mailer", ConfigPath: writeClientConfig(t, clientConfig)}
	assert.Error(t, missing.Check())

	empty := &LocalClient{Command: os.Args[0], ConfigPath: writeClientConfig(t, "defaults\n")}
	assert.ErrorIs(t, empty.Check(), ErrNoAccount)

	absent := &LocalClient{Command: os.Args[0], ConfigPath: filepath.Join(t.TempDir(), "none")}
	assert.Error(t, absent.Check())
}

func TestSMTPCheck(t *testing.T) {
	assert.Error(t, (&SMTP{From: "me@example.com"}).Check())
	assert.Error(t, (&SMTP{Host: "smtp.example.com"}).Check())
	assert.NoError(t, (&SMTP{Host: "smtp.example.com", From: "me@example.com"}).Check())
}

func TestSMTPSendUnreachable(t *testing.T) {
	s := &SMTP{Host: "127.0.0.1", Port: 1, From: "me@example.com", Timeout: 2 * time.Second}

	err := s.Send(context.Background(), Message{To: "bob@beta.test", Subject: "s", Body: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
}

type fakeTransport struct {
	name     string
	checkErr error
	sendErr  error
	calls    int
}

func (f *fakeTransport) Name() string { return f.name }
func (f *fakeTransport) Check() error { return f.checkErr }
func (f *fakeTransport) Send(context.Context, Message) error {
	f.calls++
	return f.sendErr
}

func TestChain(t *testing.T) {
	msg := Message{To: "bob@beta.test"}

	t.Run("primary succeeds", func(t *testing.T) {
		primary, fallback := &fakeTransport{name: "local"}, &fakeTransport{name: "smtp"}
		used, err := NewChain(nil, primary, fallback).Send(context.Background(), msg)
		require.NoError(t, err)
		assert.Equal(t, "local", used)
		assert.Equal(t, 0, fallback.calls)
	})

	t.Run("falls back on failure", func(t *testing.T) {
		primary := &fakeTransport{name: "local", sendErr: errors.New("boom")}
		fallback := &fakeTransport{name: "smtp"}
		used, err := NewChain(nil, primary, fallback).Send(context.Background(), msg)
		require.NoError(t, err)
		assert.Equal(t, "smtp", used)
		assert.Equal(t, 1, primary.calls)
	})

	t.Run("skips unconfigured", func(t *testing.T) {
		primary := &fakeTransport{name: "local", checkErr: ErrNoAccount}
		fallback := &fakeTransport{name: "smtp"}
		used, err := NewChain(nil, primary, fallback).Send(context.Background(), msg)
		require.NoError(t, err)
		assert.Equal(t, "smtp", used)
		assert.Equal(t, 0, primary.calls)
	})

	t.Run("all fail", func(t *testing.T) {
		primary := &fakeTransport{name: "local", sendErr: errors.New("client down")}
		fallback := &fakeTransport{name: "smtp", sendErr: errors.New("auth failed")}
		_, err := NewChain(nil, primary, fallback).Send(context.Background(), msg)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "local: client down")
		assert.Contains(t, err.Error(), "smtp: auth failed")
	})

	t.Run("nothing configured", func(t *testing.T) {
		chain := NewChain(nil, &fakeTransport{name: "smtp", checkErr: errors.New("no server")})
		assert.ErrorIs(t, chain.Check(), ErrNoTransport)
		_, err := chain.Send(context.Background(), msg)
		assert.ErrorIs(t, err, ErrNoTransport)
	})
}

func TestPlausibleAddress(t *testing.T) {
	for _, ok := range []string{"bob@beta.test", "a.b+c@sub.example.org", " x@y.io "} {
		assert.True(t, PlausibleAddress(ok), ok)
	}
	for _, bad := range []string{"", "NO EMAIL", "bob", "bob@localhost", "Bob <bob@beta.test>", "a@b@c.d", "bob@.test"} {
		assert.False(t, PlausibleAddress(bad), bad)
	}
}
