package tools

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"unicode/utf8"

	"github.com/atotto/clipboard"
)

const clipboardPasteMaxChars = 4000

// Clipboard reads and writes the system clipboard.
type Clipboard interface {
	Copy(text string) error
	Paste() (string, error)
}

// SystemClipboard is the host clipboard.
type SystemClipboard struct{}

// Available reports whether a clipboard utility was found.
func (SystemClipboard) Available() bool { return !clipboard.Unsupported }

func (SystemClipboard) Copy(text string) error { return clipboard.WriteAll(text) }

func (SystemClipboard) Paste() (string, error) { return clipboard.ReadAll() }

// AppLauncher opens applications, files and URLs with the desktop's
// default handler.
type AppLauncher interface {
	Launch(ctx context.Context, target string) error
}

// SystemLauncher launches through xdg-open, open or start.
type SystemLauncher struct{}

// Launch starts target detached from ctx; the application outlives
// the request that opened it.
func (SystemLauncher) Launch(ctx context.Context, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", target)
	case "windows":
		cmd = exec.Command("cmd", "/C", "start", "", target)
	default:
		cmd = exec.Command("xdg-open", target)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch %s: %w", target, err)
	}
	// The launcher exits once the application is handed off.
	go cmd.Wait()
	return nil
}

type clipboardCopyParams struct {
	Text string `param:"text"`
}

func (p *clipboardCopyParams) Validate() error {
	if p.Text == "" {
		return errors.New("no text provided")
	}
	return nil
}

type openAppParams struct {
	Path string `param:"path"`
	Name string `param:"name"`
}

func (p *openAppParams) Validate() error {
	if strings.TrimSpace(p.Path) == "" && strings.TrimSpace(p.Name) == "" {
		return errors.New("need path or name")
	}
	return nil
}

func clipboardCopyHandler(c Clipboard) Handler {
	return typed(func(ctx context.Context, p clipboardCopyParams) Result {
		if err := c.Copy(p.Text); err != nil {
			return Fail(err)
		}
		return OK(fmt.Sprintf("Copied %d chars to clipboard", utf8.RuneCountInString(p.Text)))
	})
}

func clipboardPasteHandler(c Clipboard) Handler {
	return typed(func(ctx context.Context, _ noParams) Result {
		text, err := c.Paste()
		if err != nil {
			return Fail(err)
		}
		if text == "" {
			return OK("(clipboard is empty)")
		}
		return OK(truncateRunes(text, clipboardPasteMaxChars))
	})
}

func openAppHandler(l AppLauncher) Handler {
	return typed(func(ctx context.Context, p openAppParams) Result {
		target := p.Path
		if target == "" {
			target = p.Name
		}
		if err := l.Launch(ctx, target); err != nil {
			return Fail(err)
		}
		return OK("Launched: " + target)
	})
}
