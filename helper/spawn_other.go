//go:build !unix

package helper

import (
	"errors"
	"os/exec"

	"github.com/machinefabric/plugview-go/transport"
)

// TODO: pass the endpoints with SysProcAttr.AdditionalInheritedHandles on Windows.
func attachEndpoints(cmd *exec.Cmd, child *transport.ChildFiles) error {
	return errors.New("inherited helper endpoints are not supported on this platform")
}
