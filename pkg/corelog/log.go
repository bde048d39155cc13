// Package corelog provides the one shared logger every engine in the
// simulator logs through. It keeps the teacher's terse, bracket-tagged
// line style (see pkg/router/failover.go's "[Failover] ..." calls) but
// routes it through logrus instead of fmt.Printf so that the mgmt API and
// operators get structured fields (component, port, vlan, ...) for free.
package corelog

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	base     *logrus.Logger
	baseOnce sync.Once
)

// Base returns the process-wide logrus logger, initialized on first use.
func Base() *logrus.Logger {
	baseOnce.Do(func() {
		base = logrus.New()
		base.SetOutput(os.Stderr)
		base.SetLevel(logrus.InfoLevel)
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	})
	return base
}

// SetLevel adjusts the process-wide log level, e.g. from config.
func SetLevel(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	Base().SetLevel(lvl)
	return nil
}

// For returns a component-tagged entry, the logrus equivalent of the
// teacher's "[Component] " prefix convention.
func For(component string) *logrus.Entry {
	return Base().WithField("component", component)
}
