package testutil

import (
	"io"
	"os"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// Test binaries log at trace level, and only to the terminal under -v.
func init() {
	logrus.SetLevel(logrus.TraceLevel)
	if !lo.Contains(os.Args, "-test.v=true") {
		logrus.SetOutput(io.Discard)
	}
}

// DisableLogging discards the standard logger's output until the returned
// func restores it.
func DisableLogging() func() {
	out := logrus.StandardLogger().Out
	logrus.SetOutput(io.Discard)
	return func() { logrus.SetOutput(out) }
}
