// Copyright (c) nano Authors. All Rights Reserved.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package log provides the package-level logger used by every agentmesh
// component. It wraps logrus so callers can swap in their own configured
// instance without every package importing logrus directly.
package log

import (
	"github.com/sirupsen/logrus"
)

// Logger is the subset of logrus.FieldLogger agentmesh components use.
type Logger interface {
	Print(args ...interface{})
	Printf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	WithField(key string, value interface{}) *logrus.Entry
}

// Log is the package-level logger. Replace it with SetLogger.
var Log Logger = logrus.New()

// SetLogger overrides the default logger.
func SetLogger(l Logger) {
	if l != nil {
		Log = l
	}
}

// Print logs at info level.
func Print(args ...interface{}) { Log.Print(args...) }

// Printf logs a formatted message at info level.
func Printf(format string, args ...interface{}) { Log.Printf(format, args...) }

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...interface{}) { Log.Warnf(format, args...) }

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...interface{}) { Log.Errorf(format, args...) }

// Fatalf logs a formatted message at fatal level and exits the process.
func Fatalf(format string, args ...interface{}) { Log.Fatalf(format, args...) }
