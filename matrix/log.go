package matrix

import (
	"github.com/davecgh/go-spew/spew"
	prefixed "github.com/matterbridge/logrus-prefixed-formatter"
	"github.com/sirupsen/logrus"
)

// newLogger builds a package-scoped logrus entry the same way
// bridge/matrix.New does: a dedicated *logrus.Logger with the prefixed
// text formatter, a "prefix" field naming the subsystem, and level driven
// off the config's debug/trace switches.
func newLogger(cfg *Config, prefix string) *logrus.Entry {
	root := logrus.New()
	root.SetFormatter(&prefixed.TextFormatter{
		PrefixPadding: 14,
		FullTimestamp: true,
	})

	switch {
	case cfg.Trace:
		root.SetLevel(logrus.TraceLevel)
	case cfg.Debug:
		root.SetLevel(logrus.DebugLevel)
	default:
		root.SetLevel(logrus.InfoLevel)
	}

	return root.WithFields(logrus.Fields{"prefix": prefix})
}

// traceDumpEvent dumps ev's full structure at trace level, the same role
// spew.Sdump plays in bridge/matrix's handleMatrix/handleMessageEvent
// handlers.
func traceDumpEvent(ev *Event) {
	if !logger.Logger.IsLevelEnabled(logrus.TraceLevel) {
		return
	}

	logger.Tracef("event:\n%s", spew.Sdump(ev))
}
