package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sentimeter/backend/internal/auth"
	"github.com/sentimeter/backend/internal/db"
	"github.com/sentimeter/backend/internal/jobs"
	"github.com/sentimeter/backend/internal/ledger"
	"github.com/sentimeter/backend/internal/queue"
)

const (
	demoEmail   = "demo@example.com"
	demoCredits = 100
)

var (
	seedPassword  string
	topupUser     int64
	topupAmount   int64
	balanceUser   int64
	auditOlderAge time.Duration
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the application schema and River's job tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, pool, err := connect(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := db.Migrate(ctx, pool); err != nil {
			return err
		}
		if err := queue.Migrate(ctx, pool); err != nil {
			return err
		}
		goodColor.Println("✓ schema up to date")
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the demo admin account on an empty database",
	Long: `Creates ` + demoEmail + ` as an admin with 100 credits.
Does nothing if any user already exists.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, pool, err := connect(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		users := auth.NewRepository(pool)
		n, err := users.Count(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			warnColor.Printf("! %d user(s) already exist, skipping seed\n", n)
			return nil
		}
		hash, err := auth.HashPassword(seedPassword)
		if err != nil {
			return err
		}
		u, err := users.Create(ctx, demoEmail, hash, true)
		if err != nil {
			return err
		}
		l := ledger.NewService(ledger.NewRepository(pool))
		if _, err := l.Credit(ctx, u.ID, demoCredits, ledger.Entry{Description: "Seed credits"}); err != nil {
			return err
		}
		goodColor.Printf("✓ created %s (id %d) with %d credits\n", u.Email, u.ID, demoCredits)
		return nil
	},
}

var topupCmd = &cobra.Command{
	Use:   "topup",
	Short: "Credit a user's balance",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, pool, err := connect(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		l := ledger.NewService(ledger.NewRepository(pool))
		txn, err := l.Credit(ctx, topupUser, topupAmount, ledger.Entry{Description: "Admin top up"})
		if err != nil {
			return err
		}
		goodColor.Printf("✓ user %d credited %d, balance now %d\n", topupUser, topupAmount, txn.BalanceAfter)
		return nil
	},
}

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show a user's balance and check it against the transaction log",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, pool, err := connect(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		a, err := ledger.NewService(ledger.NewRepository(pool)).Audit(ctx, balanceUser)
		if err != nil {
			return err
		}
		headerColor.Printf("User %d\n", a.UserID)
		fmt.Printf("  balance:    %d\n", a.Balance)
		fmt.Printf("  ledger sum: %d\n", a.LedgerSum)
		if !a.Consistent() {
			badColor.Println("✗ balance does not match the transaction log")
			return errors.New("ledger inconsistent")
		}
		goodColor.Println("✓ consistent")
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List charges that never produced a prediction",
	Long: `Finds prediction debits older than --older-than whose request has no
recorded result and no job left in the queue. Each row is a user who paid
for an outcome that will not arrive.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, pool, err := connect(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		charges, err := jobs.NewRepository(pool).UnresolvedCharges(ctx, time.Now().Add(-auditOlderAge))
		if err != nil {
			return err
		}
		if len(charges) == 0 {
			goodColor.Println("✓ every charge older than", auditOlderAge, "has an outcome")
			return nil
		}

		headerColor.Printf("%d unresolved charge(s)\n", len(charges))
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "USER\tAMOUNT\tREQUEST\tCHARGED AT")
		for _, c := range charges {
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\n", c.UserID, c.Amount, c.RequestID, c.CreatedAt.Format(time.RFC3339))
		}
		w.Flush()
		return fmt.Errorf("%d unresolved charge(s)", len(charges))
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedPassword, "password", "demo-password", "password for the demo account")

	topupCmd.Flags().Int64Var(&topupUser, "user", 0, "user id")
	topupCmd.Flags().Int64Var(&topupAmount, "amount", 0, "credits to add")
	_ = topupCmd.MarkFlagRequired("user")
	_ = topupCmd.MarkFlagRequired("amount")

	balanceCmd.Flags().Int64Var(&balanceUser, "user", 0, "user id")
	_ = balanceCmd.MarkFlagRequired("user")

	auditCmd.Flags().DurationVar(&auditOlderAge, "older-than", time.Hour, "only report charges older than this")
}

// redact hides the password in a connection URL.
func redact(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "database"
	}
	return u.Redacted()
}
