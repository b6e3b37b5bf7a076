// Command issue-token prints an access token signed with the configured JWT secret.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/noah-isme/olympiad-codes-api/internal/models"
	"github.com/noah-isme/olympiad-codes-api/internal/service"
	"github.com/noah-isme/olympiad-codes-api/pkg/config"
)

func main() {
	subject := flag.String("subject", "admin", "token subject (student id for STUDENT tokens)")
	role := flag.String("role", string(models.RoleAdmin), "ADMIN or STUDENT")
	name := flag.String("name", "", "full name carried in the token")
	ttl := flag.Duration("ttl", 0, "override JWT_EXPIRATION")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	jwtCfg := cfg.JWT
	if *ttl > 0 {
		jwtCfg.Expiration = *ttl
	}

	token, expiresAt, err := service.NewTokenService(jwtCfg).Generate(*subject, models.UserRole(strings.ToUpper(*role)), *name)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires at %s\n", expiresAt.Format(time.RFC3339))
}
