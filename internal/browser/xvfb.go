package browser

import (
	"fmt"
	"os/exec"
	"time"
)

// startXvfb launches a virtual display sized to the profile viewport.
func (m *Manager) startXvfb() error {
	if m.xvfb != nil {
		return nil
	}
	vp := m.cfg.Profile.Viewport
	screen := fmt.Sprintf("%dx%dx24", vp.Width, vp.Height)
	cmd := exec.Command("Xvfb", m.cfg.XvfbDisplay, "-screen", "0", screen, "-ac")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb: %w", err)
	}
	m.xvfb = cmd
	time.Sleep(500 * time.Millisecond)
	m.cfg.Logger.Info("browser: xvfb started", "display", m.cfg.XvfbDisplay, "screen", screen)
	return nil
}

func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	if m.xvfb.Process != nil {
		m.xvfb.Process.Kill()
		m.xvfb.Wait()
	}
	m.xvfb = nil
}
