package main

import "fmt"

func runCheck(e *env, args []string) error {
	flagSet := e.subcommandFlags("check")
	if done, err := parseSubcommand(flagSet, args); done || err != nil {
		return err
	}

	broker, err := e.broker()
	if err != nil {
		return err
	}
	inst, err := broker.Inspect()
	if err != nil {
		return err
	}

	fmt.Fprintf(e.stdout, "helper:      %s\n", inst.Path)
	fmt.Fprintf(e.stdout, "owner uid:   %d\n", inst.Owner)
	fmt.Fprintf(e.stdout, "mode:        %s\n", inst.Mode)
	fmt.Fprintf(e.stdout, "setuid:      %t\n", inst.Setuid)
	fmt.Fprintf(e.stdout, "file caps:   %t\n", inst.FileCaps)
	fmt.Fprintf(e.stdout, "executable:  %t\n", inst.Executable)

	if inst.OK() {
		fmt.Fprintln(e.stdout, "status:      ok")
		return nil
	}
	for _, p := range inst.Problems {
		fmt.Fprintf(e.stdout, "problem:     %s\n", p)
	}
	return fmt.Errorf("helper installation has %d problem(s)", len(inst.Problems))
}
