// Package buildsys runs the Skia build pipeline. The pipeline is described as a set of tasks by a Starlark script
// (a default one is embedded, projects can provide their own build.star) and the task commands are executed by
// the mvdan.cc/sh interpreter so that quoting works the same on every platform.
package buildsys
