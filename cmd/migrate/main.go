// migrate applies or reverts the embedded schema migrations.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mnemoforge/authcore/internal/postgres/migrate"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down (one step)")
	envFile := flag.String("env", ".env", "optional env file")
	showVersion := flag.Bool("version", false, "print the applied version and exit")
	flag.Parse()

	_ = godotenv.Load(*envFile)
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is not set; create a .env or export DATABASE_URL")
		os.Exit(1)
	}

	if *showVersion {
		v, dirty, err := migrate.Version(dsn)
		if err != nil {
			fmt.Fprintln(os.Stderr, "migrate:", err)
			os.Exit(1)
		}
		fmt.Printf("version %d dirty=%t\n", v, dirty)
		return
	}

	if err := migrate.Run(dsn, *direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
