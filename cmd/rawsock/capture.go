package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/doughall/rawsock/internal/capture"
	"github.com/doughall/rawsock/internal/logging"
	"github.com/doughall/rawsock/internal/rawsock"
	"github.com/doughall/rawsock/internal/systemd"
)

// stallTimeout is how long the capture loop may go without returning from a
// read before the watchdog stops being fed.
const stallTimeout = 5 * time.Second

func runCapture(e *env, args []string) error {
	flagSet := e.subcommandFlags("capture")
	ifname := flagSet.StringP("interface", "i", e.cfg.Interface, "interface to capture on (default all)")
	etherTypeFlag := flagSet.String("ethertype", "all", "ethertype to capture: all, ipv4, ipv6, arp, vlan or a number")
	count := flagSet.IntP("count", "c", 10, "stop after this many frames")
	follow := flagSet.BoolP("follow", "f", false, "capture until interrupted, ignoring --count")
	promisc := flagSet.Bool("promisc", false, "enable promiscuous mode on --interface")
	if done, err := parseSubcommand(flagSet, args); done || err != nil {
		return err
	}

	etherType, err := capture.ParseEtherType(*etherTypeFlag)
	if err != nil {
		return err
	}
	if *promisc && *ifname == "" {
		return errors.New("--promisc requires --interface")
	}

	req, err := rawsock.NewRequest(unix.AF_PACKET, int(etherType))
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

	log := logging.WithComponent(e.logger, "capture")
	reader, err := capture.NewReader(sock, log)
	if err != nil {
		sock.Close()
		return err
	}
	defer reader.Close()

	if err := reader.Bind(*ifname, etherType); err != nil {
		return err
	}
	if *promisc {
		if err := reader.SetPromiscuous(*ifname); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	limit := *count
	if *follow {
		limit = 0
		systemd.StartWatchdog(ctx, func() bool { return reader.PolledWithin(stallTimeout) })
		systemd.NotifyReady()
		systemd.NotifyStatus(describeCapture(*ifname, etherType))
		defer systemd.NotifyStopping()
	}

	log.Info("capture started",
		"interface", *ifname,
		"ethertype", capture.EtherTypeName(etherType),
		"follow", *follow,
	)

	err = reader.Run(ctx, limit, func(f *capture.Frame) error {
		_, err := fmt.Fprintln(e.stdout, f)
		return err
	})

	printStats(e, reader.Stats())
	return err
}

func describeCapture(ifname string, etherType uint16) string {
	if ifname == "" {
		ifname = "all interfaces"
	}
	return fmt.Sprintf("capturing %s on %s", capture.EtherTypeName(etherType), ifname)
}

func printStats(e *env, s *capture.Stats) {
	fmt.Fprintf(e.stdout, "%d frames, %d bytes, %d malformed in %s\n",
		s.Frames, s.Bytes, s.Malformed, time.Since(s.Started).Round(time.Millisecond))
	for _, row := range s.Breakdown() {
		fmt.Fprintf(e.stdout, "  %-8s %d\n", capture.EtherTypeName(row.EtherType), row.Frames)
	}
}
