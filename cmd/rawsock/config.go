package main

import "github.com/doughall/rawsock/internal/config"

func runConfig(e *env, args []string) error {
	flagSet := e.subcommandFlags("config")
	if done, err := parseSubcommand(flagSet, args); done || err != nil {
		return err
	}

	data, err := config.Marshal(e.cfg)
	if err != nil {
		return err
	}
	_, err = e.stdout.Write(data)
	return err
}
