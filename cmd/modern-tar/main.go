package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"github.com/paulgaspardo/modern-tar/internal/create"
	"github.com/paulgaspardo/modern-tar/internal/extract"
	"github.com/paulgaspardo/modern-tar/internal/list"
)

var opts struct {
	Profile string          `short:"p" long:"profile" description:"override AWS_PROFILE when reading or writing s3:// archives"`
	Create  create.Command  `command:"create" alias:"c" description:"create a tar archive from files and directories"`
	Extract extract.Command `command:"extract" alias:"x" description:"extract tar archives"`
	List    list.Command    `command:"list" alias:"t" description:"list the entries of tar archives"`
}

func main() {
	p := flags.NewParser(&opts, flags.Default)
	p.CommandHandler = func(command flags.Commander, args []string) error {
		if opts.Profile != "" {
			if err := os.Setenv("AWS_PROFILE", opts.Profile); err != nil {
				return fmt.Errorf("set AWS_PROFILE error: %w", err)
			}
		}

		return command.Execute(args)
	}

	if _, err := p.Parse(); err != nil && !flags.WroteHelp(err) {
		os.Exit(1)
	}
}
