package mail

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
)

// DefaultLocalCommand is the local mail client used as the primary transport.
const DefaultLocalCommand = "msmtp"

// ErrNoAccount is returned when the local client has no usable account.
var ErrNoAccount = errors.New("no sender account available")

// Account is a sender account the local client is already authenticated for.
type Account struct {
	Name string
	From string
}

// LocalClient hands messages to an already-configured local mail client
// (msmtp-compatible: "-C config -a account -t", message on stdin). No
// credentials are needed here: the client owns them.
type LocalClient struct {
	// Command defaults to DefaultLocalCommand.
	Command string
	// PrefixArgs are placed before the client arguments.
	PrefixArgs []string
	// ConfigPath is the client's account file. Empty means the client's
	// default locations.
	ConfigPath string
	// Priority lists preferred accounts, by account name or sender address.
	// When none is present any available account is used.
	Priority []string
	// Timeout bounds one delivery. Defaults to DefaultTimeout.
	Timeout time.Duration
}

func (c *LocalClient) Name() string { return "local" }

func (c *LocalClient) command() string {
	if c.Command == "" {
		return DefaultLocalCommand
	}
	return c.Command
}

// configPath returns the account file in use: the configured one, or the
// first of $XDG_CONFIG_HOME/msmtp/config and ~/.msmtprc that exists.
func (c *LocalClient) configPath() (string, error) {
	if c.ConfigPath != "" {
		return c.ConfigPath, nil
	}
	if p, err := xdg.SearchConfigFile(filepath.Join("msmtp", "config")); err == nil {
		return p, nil
	}
	p := filepath.Join(xdg.Home, ".msmtprc")
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("no local mail client configuration found: %w", err)
	}
	return p, nil
}

// Accounts lists the accounts in the client configuration, in file order.
func (c *LocalClient) Accounts() ([]Account, error) {
	path, err := c.configPath()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return parseAccounts(f)
}

// parseAccounts reads msmtp-style "account NAME" and "from ADDR" lines. The
// "account default : NAME" alias is ignored.
func parseAccounts(r io.Reader) ([]Account, error) {
	var accounts []Account
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keyword, value, _ := strings.Cut(line, " ")
		value = strings.TrimSpace(value)
		switch keyword {
		case "account":
			if strings.Contains(value, ":") || value == "" {
				continue
			}
			accounts = append(accounts, Account{Name: value})
		case "from":
			if len(accounts) > 0 {
				accounts[len(accounts)-1].From = value
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read accounts: %w", err)
	}
	return accounts, nil
}

// SelectAccount picks the first priority entry that names an account, by
// account name or sender address, case-insensitively. Without a match the
// first account with a sender address wins.
func SelectAccount(accounts []Account, priority []string) (Account, error) {
	for _, want := range priority {
		for _, a := range accounts {
			if strings.EqualFold(a.Name, want) || strings.EqualFold(a.From, want) {
				return a, nil
			}
		}
	}
	for _, a := range accounts {
		if a.From != "" {
			return a, nil
		}
	}
	return Account{}, ErrNoAccount
}

func (c *LocalClient) account() (Account, error) {
	accounts, err := c.Accounts()
	if err != nil {
		return Account{}, err
	}
	return SelectAccount(accounts, c.Priority)
}

// Check verifies the client is installed and has an account to send from.
func (c *LocalClient) Check() error {
	if _, err := exec.LookPath(c.command()); err != nil {
		return fmt.Errorf("local mail client: %w", err)
	}
	_, err := c.account()
	return err
}

// Send writes msg to the client's stdin.
func (c *LocalClient) Send(ctx context.Context, msg Message) error {
	acct, err := c.account()
	if err != nil {
		return err
	}
	from := msg.From
	if from == "" {
		from = acct.From
	}

	var body bytes.Buffer
	if err := Render(&body, msg, from); err != nil {
		return err
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append([]string{}, c.PrefixArgs...)
	if c.ConfigPath != "" {
		args = append(args, "-C", c.ConfigPath)
	}
	args = append(args, "-a", acct.Name, "-t")

	cmd := exec.CommandContext(ctx, c.command(), args...)
	cmd.Stdin = &body
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("local client timed out after %s", timeout)
		}
		detail := strings.TrimSpace(out.String())
		if detail != "" {
			return fmt.Errorf("local client account %s: %w: %s", acct.Name, err, detail)
		}
		return fmt.Errorf("local client account %s: %w", acct.Name, err)
	}
	return nil
}
