// Command token mints a bearer token for the repair POS API, signed with the
// same AUTH_SECRET the server uses.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"repairpos/backend/internal/config"
	"repairpos/backend/internal/httpapi"
)

func main() {
	username := flag.String("user", "", "username recorded as the actor on every audited action")
	role := flag.String("role", "cashier", "admin, cashier or technician")
	ttl := flag.Duration("ttl", 0, "token lifetime (defaults to ACCESS_TOKEN_TTL_MINUTES)")
	asJSON := flag.Bool("json", false, "print the token with its role and expiry as JSON")
	flag.Parse()

	cfg := config.Load()
	if len(cfg.AuthSecret) < 32 {
		log.Fatal("AUTH_SECRET must be set and at least 32 characters")
	}

	lifetime := cfg.AccessTokenTTL()
	if *ttl > 0 {
		lifetime = *ttl
	}

	issued, err := issue(cfg.AuthSecret, lifetime, *username, *role)
	if err != nil {
		log.Fatalf("token: %v", err)
	}

	if *asJSON {
		if err := json.NewEncoder(os.Stdout).Encode(issued); err != nil {
			log.Fatalf("token: %v", err)
		}
		return
	}
	fmt.Println(issued.AccessToken)
}

func issue(secret string, lifetime time.Duration, username string, role string) (httpapi.IssuedToken, error) {
	// The manager PIN plays no part in signing tokens.
	auth := httpapi.NewAuthManager(secret, lifetime, "")
	return auth.IssueToken(username, role)
}
