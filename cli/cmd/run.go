package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// ExecuteResponse matches the API's response format (spec.md §3's
// ExecutionResult rendered as JSON by internal/api.ExecuteResponse). Output
// is a JSON-encoded envelope or raw text, never both; Error is set only on
// failure.
type ExecuteResponse struct {
	Status    string  `json:"status"`
	Output    *string `json:"output"`
	Error     *string `json:"error"`
	ElapsedMs int64   `json:"elapsed_ms"`
}

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <function_id>",
	Short: "Execute a deployed function",
	Long: `Executes a function by its ID and displays the result.

The function's console output and return value will be displayed.

Example:
  vortex run abc123-def456-...`,
	Args: cobra.ExactArgs(1),
	Run:  runFunction,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runFunction(cmd *cobra.Command, args []string) {
	functionID := args[0]

	printInfo("Executing function %s...", functionID)
	fmt.Println()

	// Send execute request
	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Post(
		apiURL+"/execute/"+functionID,
		"application/json",
		bytes.NewReader([]byte("{}")),
	)
	checkError(err, "Failed to connect to API")
	defer resp.Body.Close()

	// Read response
	body, err := io.ReadAll(resp.Body)
	checkError(err, "Failed to read response")

	// Handle errors
	if resp.StatusCode != http.StatusOK {
		var errResp map[string]interface{}
		if json.Unmarshal(body, &errResp) == nil {
			if msg, ok := errResp["error"].(string); ok {
				fatal("Execution failed: %s", msg)
			}
		}
		fatal("Execution failed with status %d: %s", resp.StatusCode, string(body))
	}

	// Parse response
	var execResp ExecuteResponse
	err = json.Unmarshal(body, &execResp)
	checkError(err, "Failed to parse response")

	if execResp.Status == "error" {
		errHeader := color.New(color.FgRed, color.Bold)
		errHeader.Println("✗ Execution Error:")
		fmt.Println()
		if execResp.Error != nil {
			fmt.Printf("  %s\n", *execResp.Error)
		}
		fmt.Println()
		timeColor := color.New(color.Faint)
		timeColor.Printf("⏱  Failed after %dms\n", execResp.ElapsedMs)
		return
	}

	// Display output
	resultHeader := color.New(color.FgGreen, color.Bold)
	resultHeader.Println("📦 Return Value:")
	fmt.Println()

	if execResp.Output != nil {
		// Output is a JSON-encoded envelope or raw text; re-indent it if it
		// parses as JSON, otherwise print the raw string as-is.
		var parsed interface{}
		if json.Unmarshal([]byte(*execResp.Output), &parsed) == nil {
			pretty, err := json.MarshalIndent(parsed, "  ", "  ")
			if err == nil {
				fmt.Printf("  %s\n", string(pretty))
			} else {
				fmt.Printf("  %s\n", *execResp.Output)
			}
		} else {
			fmt.Printf("  %s\n", *execResp.Output)
		}
	} else {
		dimPrint("  (no return value)\n")
	}
	fmt.Println()

	// Display execution time
	timeColor := color.New(color.Faint)
	timeColor.Printf("⏱  Executed in %dms\n", execResp.ElapsedMs)
}
