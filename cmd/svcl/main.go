package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var version = "0.1.0"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to a config file; defaults to config/config.<env>.<ext> next to the entry file",
	}
	envFlag := &cli.StringFlag{
		Name:    "env",
		Usage:   "Environment used for config discovery",
		EnvVars: []string{"SVCL_ENV"},
	}
	return &cli.App{
		Name:                 "svcl",
		Usage:                "Declare, check and serve HTTP services written in svcl",
		Version:              version,
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Serve the endpoints of a program",
				ArgsUsage: "[entry.svcl]",
				Flags: []cli.Flag{
					configFlag,
					envFlag,
					&cli.IntFlag{
						Name:  "port",
						Usage: "Port to listen on; overrides config and the server declaration",
					},
					&cli.StringFlag{
						Name:  "host",
						Value: "",
						Usage: "Host to bind the server to",
					},
					&cli.BoolFlag{
						Name:  "access-log",
						Value: true,
						Usage: "Log every request",
					},
				},
				Action: runServer,
			},
			{
				Name:      "check",
				Usage:     "Parse a program and report diagnostics; exits non-zero on errors",
				ArgsUsage: "[entry.svcl]",
				Flags:     []cli.Flag{configFlag, envFlag},
				Action:    checkProgram,
			},
			{
				Name:      "schema",
				Usage:     "Print the program schema as JSON",
				ArgsUsage: "[entry.svcl]",
				Action:    printSchema,
			},
			{
				Name:      "diagnostics",
				Usage:     "Print diagnostics as JSON",
				ArgsUsage: "[entry.svcl]",
				Flags:     []cli.Flag{configFlag, envFlag},
				Action:    printDiagnostics,
			},
			{
				Name:      "fmt",
				Usage:     "Format source files",
				ArgsUsage: "<file.svcl>...",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "write",
						Aliases: []string{"w"},
						Usage:   "Rewrite files in place instead of printing",
					},
				},
				Action: formatFiles,
			},
			{
				Name:      "lint",
				Usage:     "Report style issues; exits non-zero when any are found",
				ArgsUsage: "<file.svcl>...",
				Action:    lintFiles,
			},
			{
				Name:      "lock",
				Usage:     "Write a lockfile recording a digest of the program sources",
				ArgsUsage: "[entry.svcl]",
				Flags: []cli.Flag{
					envFlag,
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "Lockfile path; defaults to svcl.lock next to the entry file",
					},
				},
				Action: writeLock,
			},
			{
				Name:      "eval",
				Usage:     "Evaluate a function or an expression against a program",
				ArgsUsage: "[entry.svcl] [args...]",
				Flags: []cli.Flag{
					configFlag,
					envFlag,
					&cli.StringFlag{
						Name:    "func",
						Aliases: []string{"f"},
						Usage:   "Function to call with the remaining arguments",
					},
					&cli.StringFlag{
						Name:    "expr",
						Aliases: []string{"e"},
						Usage:   "Expression to evaluate",
					},
				},
				Action: evalProgram,
			},
		},
	}
}
