package render

import "os/exec"

func detach(cmd *exec.Cmd) {}
