package infra

import (
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/geb16/prodtracker/internal/domain"
)

// X11Sampler implements domain.Sampler on Linux/X11: xdotool answers
// which window has focus, gopsutil resolves the owning process name.
// Both are best-effort; an empty result means "no answer", not an error
// the sampling loop should stop for.
type X11Sampler struct{}

// NewX11Sampler creates a desktop sampler.
func NewX11Sampler() *X11Sampler {
	return &X11Sampler{}
}

// Sample returns (app name, window title) for the focused window.
func (s *X11Sampler) Sample(ctx context.Context) (string, string, error) {
	title, err := runXdotool(ctx, "getactivewindow", "getwindowname")
	if err != nil {
		return "", "", err
	}

	app := ""
	if pidStr, err := runXdotool(ctx, "getactivewindow", "getwindowpid"); err == nil {
		if pid, err := strconv.ParseInt(pidStr, 10, 32); err == nil {
			if proc, err := process.NewProcessWithContext(ctx, int32(pid)); err == nil {
				if name, err := proc.NameWithContext(ctx); err == nil {
					app = name
				}
			}
		}
	}

	return app, title, nil
}

func runXdotool(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "xdotool", args...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

var _ domain.Sampler = (*X11Sampler)(nil)
