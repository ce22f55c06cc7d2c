// Command demo runs the transport fabric's testable scenarios (spec.md §8)
// as standalone, human-readable demonstrations against a throwaway temp
// directory, the same shape as the teacher's cmd/demo/*_demo.go files
// (numbered steps, fmt.Println narration, log.Fatalf on unexpected error)
// generalized from one flat main() per file to one runner function per
// scenario called from a single main().
package main

import (
	"fmt"
	"log"
)

func main() {
	fmt.Println("=== S1: disk buffer round-trip ===")
	if err := runDiskRoundtripDemo(); err != nil {
		log.Fatalf("S1 failed: %v", err)
	}

	fmt.Println("\n=== S3: data file rotation ===")
	if err := runRotationDemo(); err != nil {
		log.Fatalf("S3 failed: %v", err)
	}

	fmt.Println("\n=== S4: in-memory DropNewest ===")
	if err := runDropNewestDemo(); err != nil {
		log.Fatalf("S4 failed: %v", err)
	}

	fmt.Println("\n=== All scenarios completed successfully ===")
}
