package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Log is the shared application logger.
var Log *logrus.Logger

// Bootstrap initialises the shared logger. Call once from main before
// anything else logs.
func Bootstrap(level string) {
	Log = logrus.New()
	Log.SetOutput(os.Stdout)
	Log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	Log.SetLevel(lvl)
}

func init() {
	// 保证在任何初始化顺序下 Log 都可用
	Bootstrap("info")
}
