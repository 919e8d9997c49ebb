// Package synapse holds the daemon's configuration, loaded the way the
// teacher's own LoadConfig does (YAML, with defaults for anything the file
// omits), upgraded to gopkg.in/yaml.v2 and expanded with the fields the
// session control core and its subsystem adapters need.
package synapse

import (
	"io/ioutil"
	"os"

	homedir "github.com/mitchellh/go-homedir"
	yaml "gopkg.in/yaml.v2"
)

// Config is the daemon's full configuration surface.
type Config struct {
	// SessionDir holds the persisted server identity (syn_data) and every
	// torrent's resume blob (spec.md §4.4.3, §6).
	SessionDir string `yaml:"session_dir"`

	// ListenAddr is the TCP address the out-of-scope peer listener
	// subsystem accepts inbound connections on.
	ListenAddr string `yaml:"listen_addr"`
	// RPCAddr is the HTTP+websocket address package rpc serves on.
	RPCAddr string `yaml:"rpc_addr"`

	// ThrottleUpBps and ThrottleDownBps are the initial session-wide
	// bandwidth caps shared by all torrents, in bytes/sec; 0 means unlimited.
	ThrottleUpBps   uint32 `yaml:"throttle_up_bps"`
	ThrottleDownBps uint32 `yaml:"throttle_down_bps"`

	// DiskWorkers sizes the disk subsystem's worker pool.
	DiskWorkers int `yaml:"disk_workers"`
	// TrackerTimeoutSeconds bounds a single announce HTTP round trip.
	TrackerTimeoutSeconds int `yaml:"tracker_timeout_seconds"`

	// UnchokedPeers is loaded but not read by the session: the unchoke job
	// always keeps at most 4 peers per torrent unchoked.
	UnchokedPeers int `yaml:"unchoked_peers"`

	// LogLevel is one of "debug", "info", "warn", "error"; logger.SetLevel
	// ignores values it does not recognize.
	LogLevel string `yaml:"log_level"`

	Encryption struct {
		DisableOutgoing bool `yaml:"disable_outgoing"`
		ForceOutgoing   bool `yaml:"force_outgoing"`
		ForceIncoming   bool `yaml:"force_incoming"`
	} `yaml:"encryption"`
}

// DefaultConfig mirrors the teacher's DefaultConfig: sane out-of-the-box
// values so a daemon started without a config file still runs.
var DefaultConfig = Config{
	SessionDir:            "~/.synapse",
	ListenAddr:            ":16881",
	RPCAddr:               "127.0.0.1:7246",
	DiskWorkers:           4,
	TrackerTimeoutSeconds: 15,
	UnchokedPeers:         4,
	LogLevel:              "info",
}

// LoadConfig reads filename as YAML over DefaultConfig, expands `~` in
// filesystem paths, and creates SessionDir if it doesn't already exist. A
// missing file is not an error: DefaultConfig is returned as-is, matching
// the teacher's LoadConfig behavior.
func LoadConfig(filename string) (*Config, error) {
	c := DefaultConfig
	b, err := ioutil.ReadFile(filename)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, err
		}
	}
	dir, err := homedir.Expand(c.SessionDir)
	if err != nil {
		return nil, err
	}
	c.SessionDir = dir
	if err := os.MkdirAll(c.SessionDir, 0750); err != nil {
		return nil, err
	}
	return &c, nil
}
