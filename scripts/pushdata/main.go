package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func hash(in any) string {
	switch v := in.(type) {
	case string:
		ui := xxhash.Sum64String(v)
		return strconv.FormatUint(ui, 36)
	default:
		ui := xxhash.Sum64String(fmt.Sprintf("%v", in))
		return strconv.FormatUint(ui, 36)
	}
}

func main() {
	ctx := context.Background()
	c, err := pgx.Connect(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		panic(err)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, os.Kill)
	defer cancel()

	for {
		if ctx.Err() != nil {
			return
		}

		name := hash(rand.Int63())
		id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))

		_, err := c.Exec(ctx,
			`INSERT INTO accounts (id, name, billing_email) VALUES ($1, $2, $3)`,
			id, name, name+"@example.com",
		)
		if err != nil && !errors.Is(err, context.Canceled) {
			panic(err)
		}

		_, err = c.Exec(ctx,
			`INSERT INTO memberships (account_id, user_email) VALUES ($1, $2)`,
			id, name+"@example.com",
		)
		if err != nil && !errors.Is(err, context.Canceled) {
			panic(err)
		}

		fmt.Printf("inserted account %s\n", id)
		<-time.After(time.Second)
	}
}
