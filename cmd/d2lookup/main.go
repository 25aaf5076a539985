package main

import (
	"fmt"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/Pablu23/d2lookup/internal/client"
	"github.com/Pablu23/d2lookup/internal/server"
)

const usage = `usage:
  d2lookup fetch <host> <port> <id> [config.toml]
  d2lookup serve <dataset.toml> [config.toml]`

func optionalArg(args []string, i int) string {
	if len(args) > i {
		return args[i]
	}
	return ""
}

func fetch(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("fetch needs host, port and id\n%s", usage)
	}

	port, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil {
		return fmt.Errorf("parse port: %w", err)
	}
	id, err := strconv.ParseUint(args[2], 10, 32)
	if err != nil {
		return fmt.Errorf("parse id: %w", err)
	}

	cfg, err := loadConfig(optionalArg(args, 3))
	if err != nil {
		return err
	}
	log.SetLevel(cfg.LogLevel)

	c, err := client.Open(args[0], uint16(port), cfg.peerOptions)
	if err != nil {
		return err
	}
	defer func(c *client.Client) {
		err := c.Close()
		if err != nil {
			log.WithError(err).Error("Could not close client")
		}
	}(c)

	store, err := c.FetchTree(uint32(id))
	if err != nil {
		return err
	}

	if missing := store.Unresolved(); len(missing) > 0 {
		log.WithField("IDs", missing).Warn("Subtree references nodes that were not sent")
	}

	return renderTree(os.Stdout, uint32(id), store)
}

func serve(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("serve needs a dataset\n%s", usage)
	}

	cfg, err := loadConfig(optionalArg(args, 1))
	if err != nil {
		return err
	}
	log.SetLevel(cfg.LogLevel)

	nodes, err := server.LoadDataset(args[0])
	if err != nil {
		return err
	}

	srv, err := server.New(nodes, cfg.serverOptions)
	if err != nil {
		return err
	}
	return srv.ListenAndServe()
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "fetch":
		err = fetch(os.Args[2:])
	case "serve":
		err = serve(os.Args[2:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		log.WithError(err).Fatal("d2lookup failed")
	}
}
