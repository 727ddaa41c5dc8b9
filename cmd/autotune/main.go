// Command autotune runs tuning experiments described in YAML against the
// builtin objective functions.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
