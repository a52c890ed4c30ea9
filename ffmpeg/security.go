package ffmpeg

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
)

// SplitCommand splits an engine source entry such as `/opt/ffmpeg/bin/ffmpeg
// -threads 2` into words without going through a shell.
func SplitCommand(command string) ([]string, error) {
	args, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("invalid command syntax: empty command")
	}
	return args, nil
}

// ValidateArgs rejects argument lists carrying shell metacharacters. Nothing
// is ever run through a shell, but option values come from clients and are
// echoed into logs and filter graphs.
func ValidateArgs(args []string) error {
	for _, arg := range args {
		if strings.ContainsAny(arg, "|&;`$()<>\n") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	return nil
}

// checkName keeps buffer names inside the engine's working directory.
func checkName(name string) error {
	if name == "" || filepath.Base(name) != name || name == "." || name == ".." {
		return fmt.Errorf("invalid file name %q", name)
	}
	return nil
}
