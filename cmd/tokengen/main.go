package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tendant/simple-device/pkg/config"
)

func main() {
	jwtConfig := config.JWTConfig{}
	if err := config.Load(&jwtConfig, ".env"); err != nil {
		slog.Error("Failed to load config", "err", err)
		os.Exit(1)
	}
	defaultExpiry, err := jwtConfig.ParseAccessTokenExpiry()
	if err != nil {
		defaultExpiry = time.Hour
	}

	secret := flag.String("secret", jwtConfig.Secret, "Secret key for signing the token")
	userID := flag.String("user", "", "User UUID (random when empty)")
	roles := flag.String("roles", "", "Comma separated roles, e.g. admin")
	expiry := flag.Duration("expiry", defaultExpiry, "Token expiry duration (e.g., 30m, 1h, 24h)")
	outputFormat := flag.String("format", "compact", "Output format: compact, full, or debug")
	flag.Parse()

	if *userID == "" {
		*userID = uuid.NewString()
	} else if _, err := uuid.Parse(*userID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: user must be a UUID: %v\n", err)
		os.Exit(1)
	}

	extraClaims := map[string]interface{}{}
	if *roles != "" {
		extraClaims["roles"] = strings.Split(*roles, ",")
	}

	now := time.Now()
	expiresAt := now.Add(*expiry)
	claims := jwt.MapClaims{
		"sub":          *userID,
		"user_id":      *userID,
		"iss":          jwtConfig.Issuer,
		"aud":          jwtConfig.Audience,
		"iat":          now.Unix(),
		"exp":          expiresAt.Unix(),
		"extra_claims": extraClaims,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString([]byte(*secret))
	if err != nil {
		slog.Error("Failed to sign token", "err", err)
		os.Exit(1)
	}

	switch *outputFormat {
	case "compact":
		fmt.Println(tokenStr)
	case "full":
		fmt.Printf("Token: %s\nUser: %s\nExpires: %s\n", tokenStr, *userID, expiresAt.Format(time.RFC3339))
	case "debug":
		parsed, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
			return []byte(*secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Failed to parse generated token: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("=== Token Information ===\n")
		fmt.Printf("Token: %s\n\n", tokenStr)
		fmt.Printf("=== Token Header ===\n")
		headerJSON, _ := json.MarshalIndent(parsed.Header, "", "  ")
		fmt.Printf("%s\n\n", headerJSON)
		fmt.Printf("=== Token Claims ===\n")
		claimsJSON, _ := json.MarshalIndent(parsed.Claims, "", "  ")
		fmt.Printf("%s\n\n", claimsJSON)
		fmt.Printf("Expires: %s\n", expiresAt.Format(time.RFC3339))
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown output format: %s\n", *outputFormat)
		os.Exit(1)
	}
}
