package pluginhost

import (
	"os"
	"path/filepath"

	"github.com/lavataste/sensord/internal/errs"
)

// newPluginSocketPath allocates a private directory under the OS temp
// dir for one plugin process's unix socket, named after the plugin so
// stale sockets are easy to spot in an ops incident. The returned
// cleanup removes the directory; callers invoke it only on a failed
// launch, so a launched plugin's socket directory stays on disk, also
// after the plugin is stopped.
func newPluginSocketPath(name string) (path string, cleanup func(), err error) {
	dir, err := os.MkdirTemp("", "sensord-plugin-"+name+"-")
	if err != nil {
		return "", nil, errs.Wrapf(err, "pluginhost: create socket dir for %s", name)
	}
	return filepath.Join(dir, "plugin.sock"), func() { os.RemoveAll(dir) }, nil
}
