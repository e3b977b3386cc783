package bootstrap

import (
	"errors"
	"strings"

	"github.com/guregu/null/v6"
	"github.com/jmoiron/sqlx"
	"github.com/krobus00/market-feed-service/internal/config"
	"github.com/krobus00/market-feed-service/internal/util"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
)

func StartMigrate(cmd *cobra.Command, args []string) {
	databaseName, _ := cmd.Flags().GetString("databaseName")
	actionType, _ := cmd.Flags().GetString("action")
	migrationName, _ := cmd.Flags().GetString("name")
	version, _ := cmd.Flags().GetInt64("version")

	migrationDir := "migration/postgresql/" + databaseName

	dbConfig, ok := config.Env.Database[databaseName]
	if !ok || strings.TrimSpace(dbConfig.DSN) == "" {
		util.ContinueOrFatal(errors.New("database " + databaseName + " is not configured"))
	}

	db, err := sqlx.Open("postgres", dbConfig.DSN)
	util.ContinueOrFatal(err)
	defer db.Close()

	err = goose.SetDialect("postgres")
	util.ContinueOrFatal(err)

	switch actionType {
	case "create":
		err = goose.Create(db.DB, migrationDir, migrationName, "sql")
	case "up":
		err = goose.Up(db.DB, migrationDir, goose.WithAllowMissing())
	case "up-by-one":
		err = goose.UpByOne(db.DB, migrationDir, goose.WithAllowMissing())
	case "up-to":
		err = goose.UpTo(db.DB, migrationDir, null.IntFrom(version).Int64, goose.WithAllowMissing())
	case "down":
		err = goose.Down(db.DB, migrationDir, goose.WithAllowMissing())
	case "down-to":
		err = goose.DownTo(db.DB, migrationDir, null.IntFrom(version).Int64, goose.WithAllowMissing())
	case "status":
		err = goose.Status(db.DB, migrationDir)
	case "reset":
		err = goose.Reset(db.DB, migrationDir, goose.WithAllowMissing())
		if err != nil {
			break
		}
		err = goose.Up(db.DB, migrationDir, goose.WithAllowMissing())
	default:
		err = errors.New("invalid command")
	}

	util.ContinueOrFatal(err)
}
