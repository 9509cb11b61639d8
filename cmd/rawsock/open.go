package main

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/doughall/rawsock/internal/rawsock"
)

func runOpen(e *env, args []string) error {
	flagSet := e.subcommandFlags("open")
	family := flagSet.Int("family", e.cfg.Family, "address family (17 is AF_PACKET)")
	protocol := flagSet.Int("protocol", e.cfg.Protocol, "protocol number; an ethertype such as 3 (all) for AF_PACKET")
	if done, err := parseSubcommand(flagSet, args); done || err != nil {
		return err
	}

	req, err := rawsock.NewRequest(*family, *protocol)
	if err != nil {
		return err
	}
	broker, err := e.broker()
	if err != nil {
		return err
	}

	sock, err := broker.Open(req)
	if err != nil {
		return err
	}
	defer sock.Close()

	domain, err := unix.GetsockoptInt(sock.Fd(), unix.SOL_SOCKET, unix.SO_DOMAIN)
	if err != nil {
		return fmt.Errorf("reading SO_DOMAIN: %w", err)
	}
	typ, err := unix.GetsockoptInt(sock.Fd(), unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		return fmt.Errorf("reading SO_TYPE: %w", err)
	}
	proto, err := unix.GetsockoptInt(sock.Fd(), unix.SOL_SOCKET, unix.SO_PROTOCOL)
	if err != nil {
		return fmt.Errorf("reading SO_PROTOCOL: %w", err)
	}

	fmt.Fprintf(e.stdout, "fd=%d domain=%d type=%d protocol=%d\n", sock.Fd(), domain, typ, proto)
	return nil
}
