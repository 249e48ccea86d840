package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/stockbook_backend/config"
	"bitbucket.org/mmdatafocus/stockbook_backend/models"
	"github.com/joho/godotenv"
)

// Seeds an admin user so a fresh deployment has a login. Safe to rerun;
// it fails on a duplicate email instead of overwriting.
func main() {
	name := flag.String("name", "Administrator", "display name")
	email := flag.String("email", "", "login email (required)")
	password := flag.String("password", "", "login password (required)")
	flag.Parse()

	if *email == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "usage: seed-admin -email admin@example.com -password secret")
		os.Exit(1)
	}

	_ = godotenv.Load()
	logger := config.GetLogger()
	config.ConnectDatabaseWithRetry()
	models.MigrateTable()

	user, err := models.CreateUser(context.Background(), &models.NewUser{
		Name:     *name,
		Email:    *email,
		Password: *password,
		IsAdmin:  true,
	})
	if err != nil {
		logger.Errorf("failed to create admin user: %v", err)
		os.Exit(1)
	}
	logger.Infof("created admin user %d (%s)", user.ID, user.Email)
}
