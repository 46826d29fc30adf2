// Command udptracker runs the minimal UDP tracker server used to exercise
// internal/tracker/udptracker's client, standalone for manual testing.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arktorrent/swarm/internal/tracker/udptracker/server"
)

func main() {
	addr := flag.String("addr", ":6969", "address to listen on")
	flag.Parse()

	srv, err := server.Listen(*addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "udptracker: failed to listen:", err)
		os.Exit(1)
	}
	defer srv.Close()

	fmt.Println("udptracker: listening on", srv.Addr())
	go srv.Serve()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
}
