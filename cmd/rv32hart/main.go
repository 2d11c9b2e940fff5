package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"rv32hart/internal/debugger"
	"rv32hart/internal/hart"
	"rv32hart/internal/loader"
	"rv32hart/internal/memory"
	"rv32hart/internal/report"
)

func main() {
	log.SetFlags(0)

	var (
		debugFlag     bool
		verboseFlag   bool
		translateFlag bool
		memSize       int
	)

	rootCmd := &cobra.Command{
		Use:   "rv32hart <image.elf>",
		Short: "functional simulator for a single RV32I hart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], memSize, translateFlag, debugFlag, verboseFlag)
		},
	}

	rootCmd.Flags().BoolVarP(&debugFlag, "debug", "d", false, "start the interactive single-step debugger")
	rootCmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "log each executed instruction")
	rootCmd.Flags().BoolVar(&translateFlag, "translate", false, "enable Sv32 translation with an identity-mapped bootstrap page table")
	rootCmd.Flags().IntVar(&memSize, "mem-size", memory.DefaultCapacity, "physical memory capacity in bytes")

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(path string, memSize int, translate, debug, verbose bool) error {
	h := hart.New(memSize)

	img, err := loader.Load(path, h.Mem)
	if err != nil {
		return fmt.Errorf("rv32hart: %w", err)
	}
	h.PC = img.EntryPC

	var rootPPN uint32
	if translate {
		rootPPN, err = loader.BootstrapIdentityPageTable(h.Mem, loader.SafeBootstrapBase(h.Mem))
		if err != nil {
			return fmt.Errorf("rv32hart: %w", err)
		}
	}

	if verbose {
		log.Printf("rv32hart: loaded %s, image_base=0x%x entry_pc=0x%x", path, img.ImageBase, img.EntryPC)
	}

	if debug {
		h.Seed(rootPPN, translate)
		h.MarkStart()
		if err := debugger.Run(h); err != nil {
			return fmt.Errorf("rv32hart: debugger: %w", err)
		}
		report.Final(os.Stdout, h, h.MMU)
		return nil
	}

	var runErr error
	if verbose {
		runErr = runVerbose(h, rootPPN, translate)
	} else {
		runErr = h.Run(rootPPN, translate)
	}
	if runErr != nil && verbose {
		log.Printf("rv32hart: %v", runErr)
	}

	report.Final(os.Stdout, h, h.MMU)
	return nil
}

// runVerbose mirrors Hart.Run but, after every step that does not end
// the run, logs the PC the step started from and the PC it left, the
// same coarse per-step trace the teacher's verbose mode prints (block
// caching means one log line may cover several retired instructions).
func runVerbose(h *hart.Hart, rootPPN uint32, translate bool) error {
	h.Seed(rootPPN, translate)
	h.MarkStart()
	for {
		pc := h.PC
		if !h.Step() {
			return h.Err()
		}
		log.Printf("rv32hart: pc=0x%08x -> pc=0x%08x retired=%d", pc, h.PC, h.Retired)
	}
}
