// Command zipflow streams ZIP archives to a file or standard output.
package main

import "os"

func main() {
	// Errors are handled by the app's ExitErrHandler.
	_ = newZipflowApp().Run(os.Args)
}
