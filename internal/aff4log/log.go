// Package aff4log provides the object-then-message logging convention
// used throughout this module, backed by logrus.
package aff4log

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// std is the package-level logger every component logs through. Callers
// embedding this library can redirect output or change the level with
// SetLogger / SetLevel.
var std = logrus.New()

// SetLogger replaces the underlying logrus logger wholesale.
func SetLogger(l *logrus.Logger) {
	std = l
}

// SetLevel adjusts the minimum level that is emitted.
func SetLevel(level logrus.Level) {
	std.SetLevel(level)
}

// object renders the subject of a log line the way fs.Logf does: a URN,
// a path, or any Stringer, falling through to %v.
func object(o interface{}) string {
	switch v := o.(type) {
	case nil:
		return "-"
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Debugf logs a debug-level line scoped to object o.
func Debugf(o interface{}, format string, args ...interface{}) {
	std.WithField("obj", object(o)).Debugf(format, args...)
}

// Infof logs an info-level line scoped to object o.
func Infof(o interface{}, format string, args ...interface{}) {
	std.WithField("obj", object(o)).Infof(format, args...)
}

// Errorf logs an error-level line scoped to object o.
func Errorf(o interface{}, format string, args ...interface{}) {
	std.WithField("obj", object(o)).Errorf(format, args...)
}
