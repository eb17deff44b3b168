// Command tcp-audit-probe runs the eventer standalone, logging every TCP
// state change it captures.
package main

import "os"

func main() {
	Execute(os.Args[1:])
}
