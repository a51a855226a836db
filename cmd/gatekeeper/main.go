// Gatekeeper is an endpoint binary-authorization agent.
//
// It decides, per execution attempt, whether a binary may run, based on a
// local rule database, and remembers decisions in a single-flight cache so
// each binary is evaluated once no matter how many processes race to launch
// it.
//
// Usage:
//
//	# Start the daemon with default configuration
//	gatekeeper run
//
//	# Start with a custom configuration file
//	gatekeeper run --config /etc/gatekeeper/config.yaml
//
//	# Add a blocking rule on a running daemon
//	gatekeeper rule add --policy BLOCKLIST --rule-type BINARY --identifier <sha256>
//
//	# Inspect the decision cache
//	gatekeeper cache check --device 64768 --inode 1048601
//
//	# Export the active rules
//	gatekeeper rule export --file rules.json
//
//	# Show daemon status
//	gatekeeper status
package main

func main() {
	Execute()
}
