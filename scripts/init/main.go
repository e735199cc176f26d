package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"

	"github.com/keystage/keystage/pkg/provider/pgprovider/pgsetup"
)

func main() {
	ctx := context.Background()

	cfg, err := pgx.ParseConfig(os.Getenv("DATABASE_URL"))
	if err != nil {
		panic(err)
	}

	sr, err := pgsetup.Setup(ctx, pgsetup.SetupOpts{AdminConfig: *cfg})
	if err != nil {
		panic(fmt.Sprintf("setup failed: %v (results: %#v)", err, sr.Results()))
	}

	if err := createTables(ctx, cfg); err != nil {
		panic(err)
	}

	for _, table := range []string{"accounts", "memberships"} {
		if err := pgsetup.Track(ctx, pgsetup.SetupOpts{AdminConfig: *cfg}, "public", table); err != nil {
			panic(err)
		}
	}
}

func createTables(ctx context.Context, cfg *pgx.ConnConfig) error {
	c, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close(ctx)

	stmt := `
		CREATE TABLE IF NOT EXISTS accounts (
		  id uuid PRIMARY KEY NOT NULL,
		  name varchar(255),
		  billing_email varchar(255) NOT NULL,

		  created_at timestamp without time zone NOT NULL default now(),
		  updated_at timestamp without time zone NOT NULL default now()
		);

		CREATE TABLE IF NOT EXISTS memberships (
		  account_id uuid NOT NULL,
		  user_email varchar(255) NOT NULL,
		  role varchar(64) NOT NULL default 'member',

		  created_at timestamp without time zone NOT NULL default now(),

		  PRIMARY KEY (account_id, user_email)
		);
	`
	_, err = c.Exec(ctx, stmt)
	return err
}
