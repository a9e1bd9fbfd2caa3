// Command usergen provisions runner and operator accounts.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"rechub/internal/account/repository"
	"rechub/internal/account/service"
	"rechub/internal/common/db"
)

type dbConfig struct {
	Database db.MySQLConfig `yaml:"database"`
}

func main() {
	configPath := flag.String("config", "configs/score_service.yaml", "Path to service config (database section is used)")
	dsn := flag.String("dsn", "", "MySQL DSN, overrides the config file")
	username := flag.String("username", "", "Account username")
	password := flag.String("password", "", "Account password")
	role := flag.String("role", string(repository.UserRoleRunner), "Account role: runner or operator")
	flag.Parse()

	if *username == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "username and password are required")
		os.Exit(1)
	}
	userRole := repository.UserRole(*role)
	if userRole != repository.UserRoleRunner && userRole != repository.UserRoleOperator {
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(1)
	}

	cfg := dbConfig{}
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	} else {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read config failed: %v\n", err)
			os.Exit(1)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "parse config failed: %v\n", err)
			os.Exit(1)
		}
	}
	if cfg.Database.DSN == "" {
		fmt.Fprintln(os.Stderr, "database DSN is required")
		os.Exit(1)
	}

	database, err := db.NewMySQLWithConfig(&cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect database failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = database.Close() }()

	users := repository.NewUserRepository(db.NewStaticProvider(database))
	// Register never touches the cache or signs tokens, so neither is wired.
	auth := service.NewAuthService(users, nil, "", 0)

	id, err := auth.Register(context.Background(), *username, *password, userRole)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create account failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("created %s account %q (id=%d)\n", userRole, *username, id)
}
