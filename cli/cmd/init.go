package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Sample JavaScript code for new functions. Functions communicate their
// result by writing a single JSON envelope to stdout; anything else
// written to stdout is captured as raw output instead.
const sampleCode = `// Welcome to the platform!
//
// This is a sample serverless function.
// Modify it and deploy with: vortex deploy index.js --owner <you>
//
// "input" is bound for you before this file runs; it holds whatever JSON
// value the caller passed to POST /execute, or null if nothing was passed.

const result = {
    message: "Hello, World!",
    received: input,
    numbers: Array.from({ length: 5 }, (_, i) => i * i),
};

console.log(JSON.stringify({
    status: 200,
    headers: { "Content-Type": "application/json" },
    body: JSON.stringify(result),
}));
`

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new Vortex function",
	Long: `Creates a sample index.js file in the current directory.
This file contains a starter template for your serverless function.`,
	Run: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) {
	printBanner()
	printInfo("Initializing new Vortex function...")

	filename := "index.js"

	// Check if file already exists
	if fileExists(filename) {
		printError("File %s already exists. Refusing to overwrite.", filename)
		printInfo("Use a different directory or remove the existing file.")
		os.Exit(1)
	}

	// Write sample code
	err := os.WriteFile(filename, []byte(sampleCode), 0644)
	checkError(err, "Failed to create file")

	printSuccess("Created %s", filename)
	printInfo("Next steps:")
	dimPrint("  1. Edit %s to add your logic\n", filename)
	dimPrint("  2. Deploy with: vortex deploy %s --owner <you>\n", filename)
	dimPrint("  3. Run with: vortex run <function_id>\n")
}
