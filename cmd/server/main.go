package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/duodeck/internal/server"
	"github.com/dmitrijs2005/duodeck/internal/server/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()

	if cfg.Mint != "" {
		if err := server.MintToken(cfg, os.Stdout); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		log.Printf("%v", err)
		return
	}

	app.Run(ctx)

}
