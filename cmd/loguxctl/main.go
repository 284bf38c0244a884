package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/docopt/docopt-go"
)

const CtlVersion = "0.1.0"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Logux operator control.

Usage:
    loguxctl status [--control_url=<control_url>]
    loguxctl action <type> [--control_url=<control_url>] --secret=<secret>
        [--field=<key=value>...]

Options:
    -h --help                       Show this screen.
    --version                       Show version.
    --control_url=<control_url>     Control endpoint base URL. [default: http://127.0.0.1:31338]
    --secret=<secret>               Control secret.
    --field=<key=value>              Repeatable key=value pair merged into the action.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], CtlVersion)
	if err != nil {
		panic(err)
	}

	controlURL, _ := opts.String("--control_url")

	if status, _ := opts.Bool("status"); status {
		statusCmd(controlURL)
		return
	}
	if action, _ := opts.Bool("action"); action {
		actionCmd(opts, controlURL)
		return
	}
}

func statusCmd(controlURL string) {
	resp, err := http.Get(controlURL + "/status")
	if err != nil {
		Err.Fatalf("status request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	Out.Printf("%d %s", resp.StatusCode, string(body))
}

func actionCmd(opts docopt.Opts, controlURL string) {
	actionType, _ := opts.String("<type>")
	secret, _ := opts.String("--secret")

	fields := map[string]any{}
	if raw, ok := opts["--field"]; ok {
		if pairs, ok := raw.([]string); ok {
			for _, pair := range pairs {
				for i := 0; i < len(pair); i += 1 {
					if pair[i] == '=' {
						fields[pair[:i]] = pair[i+1:]
						break
					}
				}
			}
		}
	}
	fields["type"] = actionType

	body, err := json.Marshal(map[string]any{
		"version": 1,
		"secret":  secret,
		"commands": []any{
			[]any{"action", fields, map[string]any{"id": fmt.Sprintf("%d server:ctl 0", time.Now().UnixNano())}},
		},
	})
	if err != nil {
		Err.Fatalf("could not encode action: %v", err)
	}

	resp, err := http.Post(controlURL+"/", "application/json", bytes.NewReader(body))
	if err != nil {
		Err.Fatalf("action request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	Out.Printf("%d %s", resp.StatusCode, string(respBody))
}
