package tmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Runner executes the multiplexer binary and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands with os/exec, folding stderr into errors.
type ExecRunner struct{}

// Run executes name with args.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%s command timed out: %v", name, args)
		}
		if errStr := strings.TrimSpace(stderr.String()); errStr != "" {
			return "", fmt.Errorf("%s %s: %s", name, args[0], errStr)
		}
		return "", fmt.Errorf("%s %s: %w", name, args[0], err)
	}
	return stdout.String(), nil
}

// Client drives tmux by shelling out to its binary.
type Client struct {
	binary  string
	timeout time.Duration
	runner  Runner
}

// NewClient creates a Client. runner may be nil to use ExecRunner.
func NewClient(binary string, timeout time.Duration, runner Runner) *Client {
	if binary == "" {
		binary = "tmux"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Client{binary: binary, timeout: timeout, runner: runner}
}

func (c *Client) run(ctx context.Context, args ...string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.runner.Run(ctx, c.binary, args...)
}

func (c *Client) Available(ctx context.Context) error {
	_, err := c.run(ctx, "-V")
	return err
}

func (c *Client) CurrentPane(ctx context.Context) (string, error) {
	if os.Getenv("TMUX") == "" {
		return "", nil
	}
	return os.Getenv("TMUX_PANE"), nil
}

func (c *Client) NewSession(ctx context.Context, name, cwd string) (string, error) {
	args := []string{"new-session", "-d", "-s", name, "-P", "-F", "#{pane_id}"}
	if cwd != "" {
		args = append(args, "-c", cwd)
	}
	out, err := c.run(ctx, args...)
	if err != nil {
		return "", err
	}
	return firstLine(out), nil
}

func (c *Client) SplitPane(ctx context.Context, target string, req SplitRequest) (string, error) {
	direction := "-v"
	if req.Horizontal {
		direction = "-h"
	}
	args := []string{"split-window", "-d", direction, "-t", target, "-P", "-F", "#{pane_id}"}
	if req.Cwd != "" {
		args = append(args, "-c", req.Cwd)
	}
	if req.Command != "" {
		args = append(args, req.Command)
	}
	out, err := c.run(ctx, args...)
	if err != nil {
		return "", err
	}
	pane := firstLine(out)
	if pane == "" {
		return "", fmt.Errorf("tmux split-window returned no pane id")
	}
	return pane, nil
}

func (c *Client) KillPane(ctx context.Context, pane string) error {
	_, err := c.run(ctx, "kill-pane", "-t", pane)
	return err
}

func (c *Client) KillSession(ctx context.Context, name string) error {
	_, err := c.run(ctx, "kill-session", "-t", "="+name)
	return err
}

func (c *Client) SelectPane(ctx context.Context, pane string) error {
	_, err := c.run(ctx, "select-pane", "-t", pane)
	return err
}

func (c *Client) SendKeys(ctx context.Context, pane, data string) error {
	_, err := c.run(ctx, "send-keys", "-t", pane, "-l", "--", data)
	return err
}

func (c *Client) CapturePane(ctx context.Context, pane string, start, end int) ([]string, error) {
	out, err := c.run(ctx, "capture-pane", "-p", "-t", pane,
		"-S", strconv.Itoa(start), "-E", strconv.Itoa(end))
	if err != nil {
		return nil, err
	}
	out = strings.TrimSuffix(out, "\n")
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

func (c *Client) HistorySize(ctx context.Context, pane string) (int, error) {
	out, err := c.display(ctx, pane, "#{history_size}")
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(out)
}

func (c *Client) PaneInfo(ctx context.Context, pane string) (PaneInfo, error) {
	out, err := c.display(ctx, pane, "#{pane_width} #{pane_height} #{cursor_x} #{cursor_y}")
	if err != nil {
		return PaneInfo{}, err
	}
	return parsePaneInfo(out)
}

func (c *Client) SetRemainOnExit(ctx context.Context, pane string, on bool) error {
	val := "off"
	if on {
		val = "on"
	}
	_, err := c.run(ctx, "set-option", "-p", "-t", pane, "remain-on-exit", val)
	return err
}

func (c *Client) display(ctx context.Context, pane, format string) (string, error) {
	out, err := c.run(ctx, "display-message", "-p", "-t", pane, format)
	if err != nil {
		return "", err
	}
	return firstLine(out), nil
}

func parsePaneInfo(s string) (PaneInfo, error) {
	fields := strings.Fields(s)
	if len(fields) != 4 {
		return PaneInfo{}, fmt.Errorf("unexpected pane info %q", s)
	}
	var nums [4]int
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return PaneInfo{}, fmt.Errorf("unexpected pane info %q: %w", s, err)
		}
		nums[i] = n
	}
	return PaneInfo{Cols: nums[0], Rows: nums[1], CursorX: nums[2], CursorY: nums[3]}, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
