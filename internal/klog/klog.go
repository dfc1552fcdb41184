// Package klog provides the kernel's default logger: a github.com/go-logr/logr
// front end over the funcr backend, used in place of bare fmt.Printf
// diagnostics scattered through kernel packages (e.g. the coremap's
// "out of frames" warning). Call sites log through logr's structured
// key/value API instead of building format strings by hand.
package klog

import (
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
)

var root = funcr.New(func(prefix, args string) {
	if prefix != "" {
		os.Stderr.WriteString(prefix + ": " + args + "\n")
		return
	}
	os.Stderr.WriteString(args + "\n")
}, funcr.Options{LogCaller: funcr.None})

/// New returns a named logger rooted at the kernel's default sink, the
/// way each subsystem (coremap, swap, fault, proc) wants its own name in
/// a multi-component log stream.
func New(name string) logr.Logger {
	return root.WithName(name)
}
