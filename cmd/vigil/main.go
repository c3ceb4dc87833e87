// Vigil - Cloud Account Compliance Scanner
// Enumerate. Evaluate. Remediate.
package main

import "os"

func main() {
	os.Exit(Execute())
}
