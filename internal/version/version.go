// Package version reports build and protocol information for the
// sensord binary — what a client needs before it decides whether it
// can even talk to this daemon, not just a build stamp.
package version

import (
	"fmt"

	"github.com/lavataste/sensord/internal/wire"
)

// Build information, set at build time via ldflags.
var (
	CommitHash = "dev"
	BuildTime  = "unknown"
	Version    = "dev"
)

// Info is the build and protocol information for one running binary.
// ProtocolVersion is what CmdChannelReady negotiation actually checks
// against (internal/wire.ProtocolVersion); CommitHash/BuildTime/Version
// are for operators, not for protocol compatibility decisions.
type Info struct {
	CommitHash      string `json:"commit_hash"`
	BuildTime       string `json:"build_time"`
	Version         string `json:"version"`
	ProtocolVersion int    `json:"protocol_version"`
}

// Get returns the current version information.
func Get() Info {
	return Info{
		CommitHash:      CommitHash,
		BuildTime:       BuildTime,
		Version:         Version,
		ProtocolVersion: wire.ProtocolVersion,
	}
}

// String returns the line sensord prints for --version and logs on
// startup.
func (i Info) String() string {
	if i.Version != "dev" {
		return fmt.Sprintf("sensord %s (commit %s, built %s, protocol %d)", i.Version, i.CommitHash, i.BuildTime, i.ProtocolVersion)
	}
	return fmt.Sprintf("sensord dev (commit %s, built %s, protocol %d)", i.CommitHash, i.BuildTime, i.ProtocolVersion)
}
