package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/denis-papin/ava-home/cmd"
)

func serviceFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "mqtt-host",
			EnvVars: []string{"MQTT_HOST"},
		},
		&cli.StringFlag{
			Name:    "mqtt-user",
			EnvVars: []string{"MQTT_USER"},
		},
		&cli.StringFlag{
			Name:    "mqtt-pass",
			EnvVars: []string{"MQTT_PASS"},
		},
		&cli.StringFlag{
			Name:    "database-url",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "heatzy-app-id",
			EnvVars: []string{"HEATZY_APPLICATION_ID"},
		},
		&cli.StringFlag{
			Name:    "heatzy-token",
			EnvVars: []string{"HEATZY_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "listen",
			EnvVars: []string{"BRIDGE_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "topology",
			Usage:   "device and loop document, the built-in one when empty",
			EnvVars: []string{"TOPOLOGY_FILE"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			EnvVars: []string{"LOG_LEVEL"},
			Value:   "INFO",
		},
	}
}

func serviceCommand(name, usage string) *cli.Command {
	return &cli.Command{
		Name:   name,
		Usage:  usage,
		Flags:  serviceFlags(),
		Action: cmd.ServiceCommand(name),
	}
}

func main() {
	app := &cli.App{
		Name:  "ava-home",
		Usage: "home automation services over mqtt",
		Commands: []*cli.Command{
			serviceCommand(cmd.LightSync, "keep switches, dimmers and lamps in step"),
			serviceCommand(cmd.EventStorage, "record sensor temperatures"),
			serviceCommand(cmd.RadiatorCtrl, "apply radiator modes through heatzy"),
			serviceCommand(cmd.Regulator, "turn heating plans into radiator modes"),
			serviceCommand(cmd.Heartbeat, "publish the heating plan in effect"),
			serviceCommand(cmd.Bridge, "relay the bus to websocket clients"),
			{
				Name:   "migrate",
				Usage:  "apply database migrations",
				Flags:  serviceFlags(),
				Action: cmd.MigrateCommand,
			},
			{
				Name:  "token",
				Usage: "generate a bridge token and its hash",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "length",
						Value: 32,
					},
				},
				Action: cmd.TokenCommand,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
