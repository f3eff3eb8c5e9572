// Command chapterwatch turns feed-announced chapter archives into PDF documents.
package main

import "github.com/JakeFAU/chapterwatch/cmd"

func main() {
	cmd.Execute()
}
