package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/oarkflow/permit"
	"github.com/oarkflow/permit/logger"
	"github.com/oarkflow/permit/stores"
)

func main() {
	cfgPath := flag.String("config", "", "YAML or JSON config with engine settings and seed data")
	asJSON := flag.Bool("json", false, "print the full decision as JSON")
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if *cfgPath == "" || len(args) < 3 {
		usage()
		os.Exit(2)
	}

	cfg, err := permit.NewConfigLoader().LoadFile(*cfgPath)
	if err != nil {
		fatal("load config: %v", err)
	}

	store := stores.NewMemoryStore()
	ctx := context.Background()
	if err := cfg.Apply(ctx, store); err != nil {
		fatal("seed store: %v", err)
	}

	var client permit.StoreClient = store
	if cfg.Engine.StoreCacheTTL > 0 {
		cached, err := stores.NewCachedStore(store, stores.CachedStoreConfig{
			TTL:         time.Duration(cfg.Engine.StoreCacheTTL) * time.Millisecond,
			NumCounters: cfg.Engine.RistrettoNumCounter,
			MaxCost:     cfg.Engine.RistrettoMaxCost,
			BufferItems: cfg.Engine.RistrettoBuffer,
		})
		if err != nil {
			fatal("build store cache: %v", err)
		}
		defer cached.Close()
		client = cached
	}

	opts := append(cfg.Options(), permit.WithLogger(logger.NewPhusluLogger()))
	if cfg.Engine.AuditBuffer > 0 {
		opts = append(opts, permit.WithAuditSink(permit.NewMemoryAuditSink(), cfg.Engine.AuditBuffer))
	}
	resolver, err := permit.New(client, opts...)
	if err != nil {
		fatal("build resolver: %v", err)
	}
	defer resolver.Close()

	req := permit.ResolveRequest{
		Principal: args[0],
		Action:    args[1],
	}
	req.ResourceType, req.ResourceID, _ = strings.Cut(args[2], ":")
	if len(args) > 3 {
		req.Tenant = args[3]
	}

	decision, err := resolver.Explain(ctx, req)
	if err != nil {
		fatal("resolve: %v", err)
	}

	if *asJSON {
		payload, _ := json.MarshalIndent(decision, "", "  ")
		fmt.Println(string(payload))
	} else {
		verdict := "DENY"
		if decision.Granted {
			verdict = "ALLOW"
		}
		fmt.Printf("%s (%s)\n", verdict, decision.Path)
		for _, line := range decision.Trace {
			fmt.Printf("  %s\n", line)
		}
	}
	if !decision.Granted {
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: permit -config <file> [-json] <principal> <action> <resource[:id]> [tenant]

Resolves one permission question against the seeded configuration and
prints the verdict with its resolution path.
`)
	flag.PrintDefaults()
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "permit: "+format+"\n", args...)
	os.Exit(1)
}
