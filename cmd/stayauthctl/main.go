// Command stayauthctl runs and operates the stayAuth service.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
