package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	goyaml "gopkg.in/yaml.v3"

	"github.com/doughall/rawsock/internal/capture"
)

func runInterfaces(e *env, args []string) error {
	flagSet := e.subcommandFlags("interfaces")
	asYAML := flagSet.Bool("yaml", false, "print as YAML including addresses")
	if done, err := parseSubcommand(flagSet, args); done || err != nil {
		return err
	}

	ifaces, err := capture.Interfaces(context.Background())
	if err != nil {
		return err
	}

	if *asYAML {
		enc := goyaml.NewEncoder(e.stdout)
		enc.SetIndent(2)
		if err := enc.Encode(ifaces); err != nil {
			return fmt.Errorf("encoding interfaces: %w", err)
		}
		return enc.Close()
	}

	tw := tabwriter.NewWriter(e.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tNAME\tMAC\tMTU\tFLAGS")
	for _, iface := range ifaces {
		mac := iface.HardwareAddr
		if mac == "" {
			mac = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", iface.Index, iface.Name, mac, iface.MTU, strings.Join(iface.Flags, ","))
	}
	return tw.Flush()
}
