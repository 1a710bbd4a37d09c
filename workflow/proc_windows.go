//go:build windows

package workflow

import "os/exec"

// configureProcess keeps the default Cancel, which kills the process.
func configureProcess(cmd *exec.Cmd) {}
