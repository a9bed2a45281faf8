// Command batchload replays a YAML mutation script through a batch inserter
// and reports the simulated commits it produced.
package main

func main() {
	execute()
}
