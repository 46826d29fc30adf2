// Command swarmd runs a swarm engine session: it loads a config file,
// starts the control plane, adds any .torrent files given on the command
// line, and serves until SIGINT/SIGTERM.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arktorrent/swarm/internal/logger"
	"github.com/arktorrent/swarm/internal/metainfo"
	"github.com/arktorrent/swarm/session"
)

func main() {
	configFile := flag.String("config", "", "path to a session config YAML file")
	flag.Parse()

	log := logger.New()

	config, err := session.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "swarmd: failed to load config:", err)
		os.Exit(1)
	}

	sess, err := session.New(*config, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "swarmd: failed to start session:", err)
		os.Exit(1)
	}
	defer sess.Close()

	for _, path := range flag.Args() {
		if err := addTorrentFile(sess, path); err != nil {
			log.Errorln("failed to add", path, ":", err)
		}
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	log.Infoln("shutting down")
}

func addTorrentFile(sess *session.Session, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	mi, err := metainfo.New(f)
	if err != nil {
		return err
	}
	_, err = sess.Add(mi)
	return err
}
