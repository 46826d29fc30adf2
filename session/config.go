// Package session is the control plane: it owns the process-wide peer_id,
// the listening socket peers connect to, the resume database, and the
// roster of swarm.Torrent supervisors it starts, pauses and stops on
// request. Config/LoadConfig mirror a familiar root-level pattern,
// consolidated here alongside the roster they configure.
package session

import (
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"
)

// Config is the on-disk configuration for one session.
type Config struct {
	Port             uint16 `yaml:"port"`
	DownloadDir      string `yaml:"download_dir"`
	ResumeDBPath     string `yaml:"resume_db"`
	MaxOutboundPeers int    `yaml:"max_outbound_peers"`
}

// DefaultConfig uses the conventional BitTorrent listen port and adds
// the paths this engine needs beyond a bare port number.
var DefaultConfig = Config{
	Port:             6881,
	DownloadDir:      "~/swarm/downloads",
	ResumeDBPath:     "~/swarm/resume.db",
	MaxOutboundPeers: 50,
}

// LoadConfig reads filename as YAML over DefaultConfig, expanding a
// leading ~ in path fields via go-homedir. A missing file is not an error;
// DefaultConfig (with paths expanded) is returned instead.
func LoadConfig(filename string) (*Config, error) {
	c := DefaultConfig
	b, err := os.ReadFile(filename)
	if os.IsNotExist(err) {
		return expandPaths(&c)
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return expandPaths(&c)
}

func expandPaths(c *Config) (*Config, error) {
	var err error
	if c.DownloadDir, err = homedir.Expand(c.DownloadDir); err != nil {
		return nil, err
	}
	if c.ResumeDBPath, err = homedir.Expand(c.ResumeDBPath); err != nil {
		return nil, err
	}
	return c, nil
}

func defaultTorrentDir(base, name string) string {
	return filepath.Join(base, name)
}
