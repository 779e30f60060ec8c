// Package util holds small process-execution helpers used by the
// container gateway.
package util

import (
	"fmt"
	"os/exec"

	"github.com/sirupsen/logrus"
)

// Run executes combinedArgs[0] with the remaining entries as arguments,
// inheriting the parent environment, and returns an error that includes
// combined stdout/stderr on failure.
func Run(combinedArgs ...string) error {
	logrus.Debugf("run: %v", combinedArgs)
	cmd := exec.Command(combinedArgs[0], combinedArgs[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("run command %v: %w; output: %s", combinedArgs, err, string(output))
	}

	return nil
}

// RunWithOutput is like Run but also returns the combined stdout/stderr of
// a successful invocation.
func RunWithOutput(combinedArgs ...string) (string, error) {
	logrus.Debugf("run: %v", combinedArgs)
	cmd := exec.Command(combinedArgs[0], combinedArgs[1:]...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("run command %v: %w; output: %s", combinedArgs, err, string(output))
	}

	return string(output), nil
}
