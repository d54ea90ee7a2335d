// fakeafip serves local stand-ins of the identity, invoicing and registry
// services so the CLI can be exercised without homologation credentials.
package main

import (
	"flag"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/afipws/internal/afiptest"
	"github.com/vocdoni/gofirma/afipws/internal/logging"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8085", "Address to listen on")
	ttl := flag.Duration("ticket-ttl", 12*time.Hour, "Lifetime of issued login tickets")
	level := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger, err := logging.New(logging.Config{Level: *level, Format: "console"})
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	srv := afiptest.NewStandalone()
	srv.TicketTTL = *ttl
	seedTaxpayers(srv)

	base := "http://" + *addr
	logger.Info("fake services listening",
		zap.String("wsaa", base+"/wsaa"),
		zap.String("wsfe", base+"/wsfe"),
		zap.String("padron_a5", base+"/padron-a5"),
		zap.String("padron_a13", base+"/padron-a13"))
	if err := http.ListenAndServe(*addr, srv.Handler()); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func seedTaxpayers(srv *afiptest.Server) {
	srv.AddTaxpayer(afiptest.Taxpayer{
		ID:       30714796476,
		Kind:     "JURIDICA",
		Company:  "ACME SRL",
		State:    "ACTIVO",
		Street:   "AV CORRIENTES 1234",
		City:     "CIUDAD AUTONOMA BUENOS AIRES",
		Province: "CIUDAD AUTONOMA BUENOS AIRES",
		Postal:   "1043",
	})
	srv.AddTaxpayer(afiptest.Taxpayer{
		ID:       20111111112,
		Kind:     "FISICA",
		Name:     "JUAN",
		Surname:  "PEREZ",
		State:    "ACTIVO",
		Street:   "SAN MARTIN 50",
		City:     "ROSARIO",
		Province: "SANTA FE",
		Postal:   "2000",
	})
}
