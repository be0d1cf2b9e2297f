package terminal

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agentmux/agentmux/internal/common/logger"
)

// stopGrace is the pause between the interrupt and the exit command when
// stopping a session, giving the agent CLI time to unwind.
const stopGrace = 500 * time.Millisecond

// agentBinaries maps known agent names to their CLI binaries. Unknown agents
// are launched under their own name.
var agentBinaries = map[string]string{
	"claude": "claude",
	"codex":  "codex",
	"gemini": "gemini",
}

// Driver sends keystrokes to panes and spawns new ones.
type Driver struct {
	runner   Runner
	lookPath func(string) (string, error)
	getenv   func(string) string
	sleep    func(time.Duration)
	logger   *logger.Logger
}

// NewDriver creates a driver backed by real subprocesses and the process
// environment.
func NewDriver(log *logger.Logger) *Driver {
	return &Driver{
		runner:   execRunner{},
		lookPath: exec.LookPath,
		getenv:   os.Getenv,
		sleep:    time.Sleep,
		logger:   log,
	}
}

// SendText injects literal text into the pane.
func (d *Driver) SendText(ctx context.Context, h *Handle, text string) error {
	if h.IsZero() {
		return ErrNoTerminal
	}
	switch h.Multiplexer {
	case MuxTmux:
		return d.sendTmux(ctx, h, text)
	case MuxKitty:
		return d.sendKitty(ctx, h, text)
	case MuxWezterm:
		return d.sendWezterm(ctx, h, text)
	case MuxZellij:
		return d.sendZellij(ctx, h, text)
	default:
		return unsupportedMux(h.Multiplexer)
	}
}

// SendApprove answers a pending approval prompt with y + Enter.
func (d *Driver) SendApprove(ctx context.Context, h *Handle) error {
	return d.SendText(ctx, h, "y\n")
}

// SendReject answers a pending approval prompt with n + Enter.
func (d *Driver) SendReject(ctx context.Context, h *Handle) error {
	return d.SendText(ctx, h, "n\n")
}

// Interrupt sends Ctrl-C to the pane.
func (d *Driver) Interrupt(ctx context.Context, h *Handle) error {
	if h.IsZero() {
		return ErrNoTerminal
	}
	switch h.Multiplexer {
	case MuxTmux:
		return d.sendTmuxKeys(ctx, h, "C-c")
	case MuxKitty:
		return d.sendKitty(ctx, h, "\x03")
	case MuxWezterm:
		return d.sendWezterm(ctx, h, "\x03")
	case MuxZellij:
		// zellij has no key-name syntax; 3 is the raw byte for Ctrl-C.
		return d.zellijAction(ctx, h, "write", "3")
	default:
		return unsupportedMux(h.Multiplexer)
	}
}

// StopSession gracefully stops the agent in the pane: interrupt, brief pause,
// then an exit command for the shell underneath.
func (d *Driver) StopSession(ctx context.Context, h *Handle) error {
	if err := d.Interrupt(ctx, h); err != nil {
		return err
	}
	d.sleep(stopGrace)
	return d.SendText(ctx, h, "exit\n")
}

// Spawn opens a new pane running an agent session and returns its handle.
// When mux is nil the multiplexer is detected from the daemon's environment.
func (d *Driver) Spawn(ctx context.Context, agent, prompt, cwd string, mux *Handle) (*Handle, error) {
	if mux.IsZero() {
		mux = d.DetectMultiplexer()
	}
	if mux.IsZero() {
		return nil, fmt.Errorf("no multiplexer detected (need tmux, kitty, wezterm, or zellij)")
	}

	shellCmd := buildAgentCommand(agent, prompt, cwd)

	var h *Handle
	var err error
	switch mux.Multiplexer {
	case MuxTmux:
		h, err = d.spawnTmux(ctx, mux, shellCmd, cwd)
	case MuxKitty:
		h, err = d.spawnKitty(ctx, mux, shellCmd, cwd)
	case MuxWezterm:
		h, err = d.spawnWezterm(ctx, mux, shellCmd, cwd)
	case MuxZellij:
		h, err = d.spawnZellij(ctx, mux, shellCmd, cwd)
	default:
		return nil, unsupportedMux(mux.Multiplexer)
	}
	if err != nil {
		return nil, err
	}

	d.logger.Info("Spawned agent pane",
		zap.String("agent", agent),
		zap.String("multiplexer", h.Multiplexer),
		zap.String("pane_id", h.PaneID()))
	return h, nil
}

// DetectMultiplexer inspects the environment for a running multiplexer.
// tmux wins over zellij, kitty, and wezterm when several are nested.
func (d *Driver) DetectMultiplexer() *Handle {
	if tmuxEnv := d.getenv("TMUX"); tmuxEnv != "" {
		socket, _, _ := strings.Cut(tmuxEnv, ",")
		return &Handle{Multiplexer: MuxTmux, TmuxSocket: socket}
	}
	if session := d.getenv("ZELLIJ_SESSION_NAME"); session != "" {
		return &Handle{Multiplexer: MuxZellij, ZellijSession: session}
	}
	if d.getenv("KITTY_WINDOW_ID") != "" {
		return &Handle{Multiplexer: MuxKitty, KittySocket: d.getenv("KITTY_LISTEN_ON")}
	}
	if d.getenv("WEZTERM_PANE") != "" {
		return &Handle{Multiplexer: MuxWezterm, WeztermSocket: d.getenv("WEZTERM_UNIX_SOCKET")}
	}
	return nil
}

func unsupportedMux(mux string) error {
	if mux == "" {
		mux = "none"
	}
	return fmt.Errorf("unsupported multiplexer: %s", mux)
}

func (d *Driver) binary(name string) (string, error) {
	path, err := d.lookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found", name)
	}
	return path, nil
}

// --- tmux ---

func (d *Driver) sendTmux(ctx context.Context, h *Handle, text string) error {
	if h.TmuxPane == "" {
		return fmt.Errorf("no tmux pane")
	}
	tmux, err := d.binary("tmux")
	if err != nil {
		return err
	}
	var args []string
	if h.TmuxSocket != "" {
		args = append(args, "-S", h.TmuxSocket)
	}
	// -l sends the text literally instead of interpreting key names.
	args = append(args, "send-keys", "-t", h.TmuxPane, "-l", text)
	_, err = d.runner.Run(ctx, tmux, args...)
	return err
}

func (d *Driver) sendTmuxKeys(ctx context.Context, h *Handle, keys string) error {
	if h.TmuxPane == "" {
		return fmt.Errorf("no tmux pane")
	}
	tmux, err := d.binary("tmux")
	if err != nil {
		return err
	}
	var args []string
	if h.TmuxSocket != "" {
		args = append(args, "-S", h.TmuxSocket)
	}
	args = append(args, "send-keys", "-t", h.TmuxPane, keys)
	_, err = d.runner.Run(ctx, tmux, args...)
	return err
}

func (d *Driver) spawnTmux(ctx context.Context, mux *Handle, shellCmd, cwd string) (*Handle, error) {
	tmux, err := d.binary("tmux")
	if err != nil {
		return nil, err
	}
	var args []string
	if mux.TmuxSocket != "" {
		args = append(args, "-S", mux.TmuxSocket)
	}
	args = append(args, "split-window", "-h")
	if cwd != "" {
		args = append(args, "-c", cwd)
	}
	args = append(args, shellCmd)
	// -P -F prints the new pane's ID so we can address it later.
	args = append(args, "-P", "-F", "#{pane_id}")

	paneID, err := d.runner.Run(ctx, tmux, args...)
	if err != nil {
		return nil, err
	}
	return &Handle{
		Multiplexer: MuxTmux,
		TmuxSocket:  mux.TmuxSocket,
		TmuxPane:    strings.TrimSpace(paneID),
	}, nil
}

// --- kitty ---

func (d *Driver) sendKitty(ctx context.Context, h *Handle, text string) error {
	if h.KittyWindowID == "" {
		return fmt.Errorf("no kitty window id")
	}
	kitty, err := d.binary("kitty")
	if err != nil {
		return err
	}
	args := []string{"@"}
	if h.KittySocket != "" {
		args = append(args, "--to", h.KittySocket)
	}
	args = append(args, "send-text", "--match", "id:"+h.KittyWindowID, text)
	_, err = d.runner.Run(ctx, kitty, args...)
	return err
}

func (d *Driver) spawnKitty(ctx context.Context, mux *Handle, shellCmd, cwd string) (*Handle, error) {
	kitty, err := d.binary("kitty")
	if err != nil {
		return nil, err
	}
	args := []string{"@"}
	if mux.KittySocket != "" {
		args = append(args, "--to", mux.KittySocket)
	}
	args = append(args, "launch", "--type=window", "--keep-focus")
	if cwd != "" {
		args = append(args, "--cwd", cwd)
	}
	args = append(args, "sh", "-c", shellCmd)

	windowID, err := d.runner.Run(ctx, kitty, args...)
	if err != nil {
		return nil, err
	}
	return &Handle{
		Multiplexer:   MuxKitty,
		KittyWindowID: strings.TrimSpace(windowID),
		KittySocket:   mux.KittySocket,
	}, nil
}

// --- wezterm ---

func (d *Driver) sendWezterm(ctx context.Context, h *Handle, text string) error {
	if h.WeztermPane == "" {
		return fmt.Errorf("no wezterm pane")
	}
	wezterm, err := d.binary("wezterm")
	if err != nil {
		return err
	}
	_, err = d.runner.Run(ctx, wezterm,
		"cli", "send-text", "--pane-id", h.WeztermPane, "--no-paste", text)
	return err
}

func (d *Driver) spawnWezterm(ctx context.Context, mux *Handle, shellCmd, cwd string) (*Handle, error) {
	wezterm, err := d.binary("wezterm")
	if err != nil {
		return nil, err
	}
	args := []string{"cli", "split-pane", "--right"}
	if cwd != "" {
		args = append(args, "--cwd", cwd)
	}
	args = append(args, "--", "sh", "-c", shellCmd)

	paneID, err := d.runner.Run(ctx, wezterm, args...)
	if err != nil {
		return nil, err
	}
	return &Handle{
		Multiplexer:   MuxWezterm,
		WeztermPane:   strings.TrimSpace(paneID),
		WeztermSocket: mux.WeztermSocket,
	}, nil
}

// --- zellij ---

func (d *Driver) sendZellij(ctx context.Context, h *Handle, text string) error {
	return d.zellijAction(ctx, h, "write-chars", text)
}

func (d *Driver) zellijAction(ctx context.Context, h *Handle, action string, args ...string) error {
	if h.ZellijSession == "" {
		return fmt.Errorf("no zellij session")
	}
	zellij, err := d.binary("zellij")
	if err != nil {
		return err
	}
	cmdArgs := append([]string{"-s", h.ZellijSession, "action", action}, args...)
	_, err = d.runner.Run(ctx, zellij, cmdArgs...)
	return err
}

func (d *Driver) spawnZellij(ctx context.Context, mux *Handle, shellCmd, cwd string) (*Handle, error) {
	zellij, err := d.binary("zellij")
	if err != nil {
		return nil, err
	}
	var args []string
	if mux.ZellijSession != "" {
		args = append(args, "-s", mux.ZellijSession)
	}
	args = append(args, "action", "new-pane", "--direction", "right")
	if cwd != "" {
		args = append(args, "--cwd", cwd)
	}
	args = append(args, "--", "sh", "-c", shellCmd)

	if _, err := d.runner.Run(ctx, zellij, args...); err != nil {
		return nil, err
	}
	// zellij does not report pane IDs; the session name addresses the pane.
	return &Handle{
		Multiplexer:   MuxZellij,
		ZellijSession: mux.ZellijSession,
	}, nil
}

// buildAgentCommand assembles the shell command that launches an agent CLI.
func buildAgentCommand(agent, prompt, cwd string) string {
	binary := agent
	if known, ok := agentBinaries[agent]; ok {
		binary = known
	}

	var parts []string
	if cwd != "" {
		parts = append(parts, "cd "+shellQuote(cwd)+" &&")
	}
	parts = append(parts, binary)

	if prompt != "" {
		if agent == "claude" {
			parts = append(parts, "--print", "--prompt", shellQuote(prompt))
		} else {
			parts = append(parts, "--prompt", shellQuote(prompt))
		}
	}
	return strings.Join(parts, " ")
}

// shellQuote single-quotes s for POSIX shells.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
