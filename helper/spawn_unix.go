//go:build unix

package helper

import (
	"os/exec"

	"github.com/machinefabric/plugview-go/transport"
)

// attachEndpoints passes the child's channel ends as its first extra files.
// The child finds them at descriptors 3 and 4, named by its first two arguments.
func attachEndpoints(cmd *exec.Cmd, child *transport.ChildFiles) error {
	cmd.ExtraFiles = child.Files()
	cmd.Args = append([]string{cmd.Args[0]}, append(child.Args(), cmd.Args[1:]...)...)
	return nil
}
