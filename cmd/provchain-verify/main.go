// Command provchain-verify replays the stored chain and reports the first
// point of failure. Exit code 0 means the chain verified; 1 means it did not.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/witnesscam/provchain"
)

type report struct {
	VerificationTimestamp string           `json:"verification_timestamp"`
	DataDir               string           `json:"data_dir"`
	Result                provchain.Result `json:"result"`
}

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to YAML configuration")
		from       = flag.Uint64("from", 0, "verify the chain suffix starting at this index")
		jsonOut    = flag.Bool("json", false, "print the result as JSON")
		exportPath = flag.String("export", "", "write a verification report to this file")
		quiet      = flag.Bool("quiet", false, "suppress progress output")
	)
	flag.Parse()

	cfg, err := provchain.LoadConfig(*configPath)
	if err != nil {
		fatal(err)
	}

	keys := provchain.NewKeyManager(cfg.KeysDir)
	pub, err := keys.LoadPublicKey()
	if err != nil {
		fatal(fmt.Errorf("load public key: %w", err))
	}

	store, err := cfg.OpenStore()
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	frames, err := provchain.NewDirArtifacts(cfg.ArtifactsDir())
	if err != nil {
		fatal(err)
	}
	verifier, err := provchain.NewVerifier(store, frames, pub, provchain.VerifierConfig{})
	if err != nil {
		fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := verifier.Verify(ctx, *from)
	if err != nil {
		fatal(err)
	}

	if *exportPath != "" {
		rep := report{
			VerificationTimestamp: time.Now().UTC().Format(time.RFC3339Nano),
			DataDir:               cfg.DataDir,
			Result:                result,
		}
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			fatal(err)
		}
		if err := os.WriteFile(*exportPath, data, 0644); err != nil {
			fatal(err)
		}
		if !*quiet {
			fmt.Printf("verification report written to %s\n", *exportPath)
		}
	}

	switch {
	case *jsonOut:
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			fatal(err)
		}
		fmt.Println(string(data))
	case !*quiet && result.OK:
		fmt.Printf("VERIFICATION PASSED: %d entries verified\n", result.VerifiedCount)
	case !*quiet:
		fmt.Printf("VERIFICATION FAILED at entry %d: %s (%d entries verified before the break)\n",
			result.FailedAt, result.Reason, result.VerifiedCount)
	}

	if !result.OK {
		os.Exit(1)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(2)
}
