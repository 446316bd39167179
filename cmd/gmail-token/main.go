// Command gmail-token walks through the OAuth consent flow and prints a
// refresh token for the token mail backend. With --store the token is saved
// in the OS keyring.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"

	"contractor-status-relay/internal/config"
	"contractor-status-relay/internal/credential"
)

func main() {
	flags := pflag.NewFlagSet("gmail-token", pflag.ExitOnError)
	redirect := flags.String("redirect-url", "http://localhost:8080/callback", "OAuth redirect URL registered for the client")
	store := flags.Bool("store", false, "save the refresh token in the OS keyring")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.LoadConfig(nil)
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.OAuth.ClientID == "" || cfg.OAuth.ClientSecret == "" {
		logrus.Fatal("Please set OAUTH_CLIENT_ID and OAUTH_CLIENT_SECRET")
	}

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		Scopes:       []string{gmail.GmailReadonlyScope},
		Endpoint:     google.Endpoint,
		RedirectURL:  *redirect,
	}

	authURL := oauth2Config.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Printf("Go to the following link in your browser: %v\n", authURL)
	fmt.Println("\nAfter authorization, you'll be redirected to a URL. Copy the 'code' parameter from that URL.")

	var authCode string
	fmt.Print("\nEnter the authorization code: ")
	if _, err := fmt.Scan(&authCode); err != nil {
		logrus.Fatalf("Failed to read authorization code: %v", err)
	}

	tok, err := oauth2Config.Exchange(context.Background(), authCode)
	if err != nil {
		logrus.Fatalf("Unable to retrieve token: %v", err)
	}
	if tok.RefreshToken == "" {
		logrus.Fatal("No refresh token returned; revoke the app's access and try again")
	}

	if *store {
		if err := credential.Store("oauth.refresh_token", tok.RefreshToken); err != nil {
			logrus.Fatalf("Failed to store refresh token: %v", err)
		}
		fmt.Println("\nRefresh token saved in the keyring. Set CREDENTIALS_KEYRING=true to use it.")
		return
	}

	fmt.Printf("\nRefresh Token: %s\n", tok.RefreshToken)
	fmt.Println("\nAdd the refresh token to your environment variables:")
	fmt.Printf("export OAUTH_REFRESH_TOKEN=\"%s\"\n", tok.RefreshToken)
}
