package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"

	logux "github.com/loguxgo/server/sync"
	"github.com/loguxgo/server/sync/wire"
)

const ServerVersion = "0.1.0"

func main() {
	usage := `Logux sync server.

Usage:
    loguxd
        [--subprotocol=<subprotocol>]
        [--supports=<supports>]
        [--backend=<backend>]
        [--control-secret=<control-secret>]
        [--control-mask=<control-mask>]
        [--control-host=<control-host>]
        [--control-port=<control-port>]
        [--host=<host>]
        [--port=<port>]
        [--cert=<cert>]
        [--key=<key>]
        [--production]

Options:
    -h --help                             Show this screen.
    --version                             Show version.
    --subprotocol=<subprotocol>           SemVer of the application data schema.
    --supports=<supports>                 SemVer range accepted from clients.
    --backend=<backend>                   Backend proxy URL.
    --control-secret=<control-secret>     Secret required on the control endpoint.
    --control-mask=<control-mask>         CIDR allowed to call the control endpoint. [default: 127.0.0.1/8]
    --control-host=<control-host>         Control endpoint bind host.
    --control-port=<control-port>         Control endpoint bind port. [default: 31338]
    --host=<host>                         Sync endpoint bind host. [default: 127.0.0.1]
    --port=<port>                         Sync endpoint bind port. [default: 31337]
    --cert=<cert>                         TLS certificate path.
    --key=<key>                           TLS key path.
    --production                          Run in production mode (suppresses debug frames).`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], ServerVersion)
	if err != nil {
		panic(err)
	}

	options := logux.Options{
		ControlMask: stringOpt(opts, "--control-mask"),
		Host:        stringOpt(opts, "--host"),
		Backend:     stringOpt(opts, "--backend"),
	}
	options.Subprotocol = stringOpt(opts, "--subprotocol")
	options.Supports = stringOpt(opts, "--supports")
	options.ControlSecret = stringOpt(opts, "--control-secret")
	options.ControlHost = stringOpt(opts, "--control-host")
	options.Cert = stringOpt(opts, "--cert")
	options.Key = stringOpt(opts, "--key")

	if port, ok := intOpt(opts, "--port"); ok {
		options.Port = port
	}
	if port, ok := intOpt(opts, "--control-port"); ok {
		options.ControlPort = port
	}
	if production, _ := opts.Bool("--production"); production {
		options.Env = logux.EnvProduction
	}

	server, err := logux.NewServer(options)
	if err != nil {
		exitFatal(err)
	}

	if err := server.ListenControl(); err != nil {
		exitFatal(err)
	}

	glog.Infof("loguxd %s listening on %s", ServerVersion, server.Addr())

	go func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			peer, err := wire.Upgrade(w, r, server.Options.Timeout, server.Options.Ping)
			if err != nil {
				glog.Infof("websocket upgrade failed: %v", err)
				return
			}
			client := logux.NewServerClient(server, peer, r.RemoteAddr)
			if err := client.Start(); err != nil {
				glog.V(1).Infof("client %s ended: %v", client.Key, err)
			}
		})

		var listenErr error
		if server.Options.Cert != "" && server.Options.Key != "" {
			listenErr = http.ListenAndServeTLS(server.Addr(), server.Options.Cert, server.Options.Key, mux)
		} else {
			listenErr = http.ListenAndServe(server.Addr(), mux)
		}
		if listenErr != nil {
			exitFatal(&logux.FatalError{Kind: logux.KindAddrInUse, Note: "sync endpoint bind failed", Err: listenErr})
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	glog.Infof("loguxd shutting down")
	done := make(chan struct{})
	go func() {
		server.Destroy()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		glog.Infof("loguxd shutdown timed out")
	}
	os.Exit(0)
}

func stringOpt(opts docopt.Opts, key string) string {
	if v, ok := opts[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func intOpt(opts docopt.Opts, key string) (int, bool) {
	s := stringOpt(opts, key)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func exitFatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
