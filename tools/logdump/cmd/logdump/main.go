// Command logdump reconstructs a battle log offline and prints the parsed
// choices, forced switches, and patches as JSON.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"battlerewind/rewinder/internal/driver"
	"battlerewind/rewinder/internal/engine/bookkeep"
	"battlerewind/rewinder/internal/replay"
	"battlerewind/rewinder/tools/logdump"
)

func main() {
	bringCount := flag.Int("bring", 4, "number of creatures each side brings to battle")
	verify := flag.Bool("verify-replay", false, "drive the parsed game through the replay driver and report the snapshot count")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: logdump [-bring N] [-verify-replay] <battle.log>")
		os.Exit(2)
	}

	report, err := logdump.BuildFromFile(flag.Arg(0), *bringCount)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logdump: %v\n", err)
		os.Exit(1)
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		fmt.Fprintf(os.Stderr, "logdump: %v\n", err)
		os.Exit(1)
	}

	if *verify {
		data, err := os.ReadFile(flag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "logdump: %v\n", err)
			os.Exit(1)
		}
		outcome, err := replay.Run(driver.New(bookkeep.Factory{}), string(data), replay.Options{BringCount: *bringCount})
		if err != nil {
			fmt.Fprintf(os.Stderr, "logdump: replay failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "replayed %d turns, %d resumable snapshots\n", outcome.TurnCount, len(outcome.Snapshots))
	}
}
