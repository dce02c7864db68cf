// Command mrmctl drives a running emergency stop operator from the command line.
//
//	mrmctl [flags] operate on|off
//	mrmctl [flags] status
//	mrmctl [flags] command
//	mrmctl [flags] send -speed 10 -accel 0 -steer 0.05
//
// The server address and token default to MRM_URL and MRM_AUTH_TOKEN.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mrm/emergencystop/internal/client"
	"github.com/mrm/emergencystop/internal/control"
)

func main() {
	url := flag.String("url", envOr("MRM_URL", "http://localhost:8080"), "operator base URL")
	token := flag.String("token", os.Getenv("MRM_AUTH_TOKEN"), "bearer token")
	h2c := flag.Bool("h2c", false, "use cleartext HTTP/2 (server must run with MRM_HTTP_H2C=true)")
	timeout := flag.Duration("timeout", 5*time.Second, "request timeout")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	c, err := client.New(client.Config{BaseURL: *url, Token: *token, H2C: *h2c, Timeout: *timeout})
	if err != nil {
		fail(err)
	}
	ctx := context.Background()

	switch name, args := flag.Arg(0), flag.Args()[1:]; name {
	case "operate":
		if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
			fail(fmt.Errorf("operate takes exactly one argument: on or off"))
		}
		ok, err := c.Operate(ctx, args[0] == "on")
		if err != nil {
			fail(err)
		}
		printJSON(map[string]bool{"success": ok})

	case "status":
		status, err := c.Status(ctx)
		if err != nil {
			fail(err)
		}
		printJSON(status)

	case "command":
		cmd, err := c.ControlCommand(ctx)
		if err != nil {
			fail(err)
		}
		printJSON(cmd)

	case "send":
		fs := flag.NewFlagSet("send", flag.ExitOnError)
		speed := fs.Float64("speed", 0, "speed, m/s")
		accel := fs.Float64("accel", 0, "acceleration, m/s²")
		steer := fs.Float64("steer", 0, "steering tire angle, rad")
		steerRate := fs.Float64("steer-rate", 0, "steering tire rotation rate, rad/s")
		fs.Parse(args)

		now := time.Now().UTC()
		stored, err := c.SendControlCommand(ctx, control.ControlCommand{
			Stamp:        now,
			Longitudinal: control.Longitudinal{Stamp: now, Speed: *speed, Acceleration: *accel},
			Lateral:      control.Lateral{Stamp: now, SteeringTireAngle: *steer, SteeringTireRotationRate: *steerRate},
		})
		if err != nil {
			fail(err)
		}
		printJSON(map[string]bool{"stored": stored})

	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: mrmctl [flags] operate on|off | status | command | send [send flags]\n\nflags:\n")
	flag.PrintDefaults()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "mrmctl: %v\n", err)
	os.Exit(1)
}
