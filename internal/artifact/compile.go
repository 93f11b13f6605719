package artifact

import (
	"context"
	"os"
	"os/exec"
)

// Compiler produces the development jar from a source checkout.
type Compiler interface {
	Compile(ctx context.Context, dir string) error
}

// MavenCompiler shells out to mvn, inheriting stdout and stderr so the build
// log stays visible.
type MavenCompiler struct{}

func (MavenCompiler) Compile(ctx context.Context, dir string) error {
	cmd := exec.CommandContext(ctx, "mvn", "clean", "package")
	cmd.Dir = dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return &BuildFailedError{Dir: dir, Err: err}
	}
	return nil
}
