// Command createadmin creates a verified admin account in the configured
// database. Values not given as flags are prompted for on stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"carparts/backend/internal/bootstrap"
	"carparts/backend/internal/config"
	"carparts/backend/internal/httpapi"
)

type adminInput struct {
	Username string
	Email    string
	Password string
}

func main() {
	config.LoadDotEnv()
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		log.Fatalf("createadmin: %v", err)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("createadmin", flag.ContinueOnError)
	fs.SetOutput(stdout)
	var in adminInput
	fs.StringVar(&in.Username, "username", "", "admin username")
	fs.StringVar(&in.Email, "email", "", "admin email")
	fs.StringVar(&in.Password, "password", "", "admin password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fmt.Fprintln(stdout, "\n=== Create Initial Admin User ===")
	if err := prompt(&in, bufio.NewReader(stdin), stdout); err != nil {
		return err
	}

	cfg := config.Load()
	if cfg.MongoURI == "" && cfg.DatabaseURL == "" {
		return errors.New("no database configured; set MONGODB_URI or DATABASE_URL")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	backend, err := bootstrap.OpenRepository(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	auth := httpapi.NewAuthManager(cfg.AuthSecret, 0, cfg.AdminSecretKey, backend.Repo)
	admin, err := auth.BootstrapAdmin(ctx, in.Username, in.Email, in.Password)
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, "\nAdmin user created successfully!")
	fmt.Fprintf(stdout, "Username: %s\nEmail: %s\nRole: %s\nStatus: %s\n", admin.Username, admin.Email, admin.Role, admin.Status)
	fmt.Fprintln(stdout, "\nYou can now log in with these credentials.")
	return nil
}

// prompt fills the fields that are still empty, one line each.
func prompt(in *adminInput, r *bufio.Reader, w io.Writer) error {
	fields := []struct {
		label string
		dest  *string
	}{
		{"Enter admin username: ", &in.Username},
		{"Enter admin email: ", &in.Email},
		{"Enter admin password: ", &in.Password},
	}
	for _, f := range fields {
		if strings.TrimSpace(*f.dest) != "" {
			continue
		}
		fmt.Fprint(w, f.label)
		line, err := r.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return fmt.Errorf("read %s: %w", strings.TrimSuffix(f.label, ": "), err)
		}
		*f.dest = strings.TrimSpace(line)
		if *f.dest == "" {
			return errors.New("all fields are required")
		}
	}
	return nil
}
