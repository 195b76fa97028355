// Command provchain-snapshot exports the chain as a portable JSON document,
// or imports such a document into an empty store after re-validating it.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/witnesscam/provchain"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "path to YAML configuration")
		exportPath = flag.String("export", "", "write the chain snapshot to this file")
		importPath = flag.String("import", "", "import a chain snapshot from this file")
	)
	flag.Parse()

	if (*exportPath == "") == (*importPath == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -export or -import is required")
		os.Exit(2)
	}

	cfg, err := provchain.LoadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	store, err := cfg.OpenStore()
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	if *exportPath != "" {
		data, err := provchain.ExportSnapshot(store)
		if err != nil {
			fatal(err)
		}
		if err := os.WriteFile(*exportPath, data, 0644); err != nil {
			fatal(err)
		}
		fmt.Printf("chain exported to %s\n", *exportPath)
		return
	}

	keys := provchain.NewKeyManager(cfg.KeysDir)
	pub, err := keys.LoadPublicKey()
	if err != nil {
		fatal(fmt.Errorf("load public key: %w", err))
	}
	data, err := os.ReadFile(*importPath)
	if err != nil {
		fatal(err)
	}
	if err := provchain.ImportSnapshot(store, pub, data); err != nil {
		fatal(err)
	}
	length, err := store.Len()
	if err != nil {
		fatal(err)
	}
	fmt.Printf("imported %d entries from %s\n", length, *importPath)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
