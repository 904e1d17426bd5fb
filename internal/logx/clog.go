package logx

import (
	"flag"
	"fmt"

	"github.com/golang/glog"
)

var defaultLogLevel glog.Level = 3

func init() {
	if vFlag := flag.Lookup("v"); vFlag != nil {
		_ = vFlag.Value.Set(fmt.Sprintf("%d", defaultLogLevel))
	}
}

// VerboseLogger gates debug-ish logging behind glog's -v flag, mirroring
// the teacher's clog.V helper.
type VerboseLogger struct {
	level glog.Level
}

func V(level glog.Level) *VerboseLogger {
	return &VerboseLogger{level: level}
}

func (v *VerboseLogger) Log(jobID, message string, keyvals ...interface{}) {
	if !glog.V(v.level) {
		return
	}
	Log(jobID, message, keyvals...)
}
