//go:build windows

package supervise

import "os/exec"

func configureProcAttr(_ *exec.Cmd) {}

// signalGroup has no graduated escalation on Windows; both stages kill.
func signalGroup(cmd *exec.Cmd, _ bool) error {
	if cmd.Process == nil {
		return nil
	}
	err := cmd.Process.Kill()
	if err != nil && err.Error() == "os: process already finished" {
		return nil
	}
	return err
}
