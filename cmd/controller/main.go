package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"relay-fleet/pkg/api"
	"relay-fleet/pkg/db"
	"relay-fleet/pkg/sni"
	"relay-fleet/pkg/store"
	"relay-fleet/pkg/synth"
	"relay-fleet/pkg/validate"
	"relay-fleet/pkg/version"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	storeType := flag.String("store", "mysql", "store backend: memory|mysql")
	consulAddr := flag.String("consul-addr", "", "consul address for fleet settings overrides (requires build tag consul)")
	checkBinary := flag.String("check-binary", validate.DefaultBinary, "engine binary used to validate configs before publishing")
	tlsCert := flag.String("tls-cert", "", "TLS cert path (enables HTTPS if set with --tls-key)")
	tlsKey := flag.String("tls-key", "", "TLS key path (enables HTTPS if set with --tls-cert)")
	clientCA := flag.String("client-ca", "", "require and verify client certs using this CA (optional)")
	flag.Parse()

	var st store.Store
	switch *storeType {
	case "mysql":
		gdb, err := db.Init()
		if err != nil {
			log.Fatalf("database init failed: %v", err)
		}
		st = store.NewGormStore(gdb)
	case "memory":
		st = store.NewMemoryStore()
	default:
		log.Fatalf("unsupported store type: %s", *storeType)
	}

	var settings store.SettingsSource = st
	if *consulAddr != "" {
		settings = store.NewConsulSettings(*consulAddr, st)
	}

	hub := api.NewWSHub()
	server := &api.Server{
		Store: st,
		Synth: synth.Synthesizer{
			Store:     st,
			Settings:  settings,
			SNI:       sni.Static{},
			Validator: validate.Checker{Binary: *checkBinary},
		},
		Hub: hub,
	}

	mux := http.NewServeMux()
	server.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("controller %s listening on %s store=%s", version.Build, *addr, *storeType)
	var err error
	if *tlsCert != "" && *tlsKey != "" {
		if *clientCA != "" {
			cfg, errTLS := api.ServerTLSConfig(*tlsCert, *tlsKey, *clientCA)
			if errTLS != nil {
				log.Fatalf("failed to build TLS config: %v", errTLS)
			}
			srv.TLSConfig = cfg
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServeTLS(*tlsCert, *tlsKey)
		}
	} else {
		err = srv.ListenAndServe()
	}
	if err != nil {
		log.Fatalf("server error: %v", err)
	}
}
