package sync

import (
	"fmt"

	"github.com/golang/glog"
)

// Logging convention in the `sync` package, carried over from the
// connect lib:
// Info:
//     essential events for abnormal behavior. Silent on normal operation
//     except for one-time startup data useful for monitoring.
//     - bruteforce trips, backend transport errors, option errors
// Debug:
//     key events for trace debugging and statistics
//     - registry mutations, auth decisions, pipeline stage transitions
// Server.report logs every bus event it reports, normal ones included,
// through the server's Info-level function; per-client lines go through
// a Debug-level sub-logger.

const LogLevelUrgent = 0
const LogLevelInfo = 50
const LogLevelDebug = 100

var GlobalLogLevel = LogLevelInfo

type LogFunction func(string, ...any)

// LogFn returns a tagged log function gated by GlobalLogLevel and backed
// by glog, so that fatal startup errors and per-connection chatter share
// one sink.
func LogFn(level int, tag string) LogFunction {
	return func(format string, a ...any) {
		if level > GlobalLogLevel {
			return
		}
		m := fmt.Sprintf(format, a...)
		switch {
		case level <= LogLevelUrgent:
			glog.Errorf("%s: %s", tag, m)
		case level <= LogLevelInfo:
			glog.Infof("%s: %s", tag, m)
		default:
			glog.V(1).Infof("%s: %s", tag, m)
		}
	}
}

// SubLogFn nests a tag under an existing log function, e.g. per-client
// logging nested under the server's log.
func SubLogFn(level int, log LogFunction, tag string) LogFunction {
	return func(format string, a ...any) {
		if level > GlobalLogLevel {
			return
		}
		m := fmt.Sprintf(format, a...)
		log("%s: %s", tag, m)
	}
}
