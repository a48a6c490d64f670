package main

import (
	"flag"
	"log"

	"github.com/danmuck/cdpwire/internal/config"
)

const defaultPath = "cmd/cdpctl/cdpctl.toml"

func main() {
	kind := flag.String("kind", "client", "config kind: client|debug|pipe")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to "+defaultPath+")")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath
		}
		cfg, err := config.LoadClientConfig(path)
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s", cfg.Transport, path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
