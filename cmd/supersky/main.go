// Command supersky keeps a Bluesky account's unread direct-message count in
// sync and serves it to chat widgets.
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
