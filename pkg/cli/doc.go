/*
Package cli provides command-line utilities for the gatekeeper command.

Output Formatting:

The cli package supports text and JSON output for displaying command
results:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, result); err != nil {
		return err
	}

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	sig := <-cli.WaitForShutdown()
	fmt.Printf("received %s, shutting down\n", sig)
*/
package cli
