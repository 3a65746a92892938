package mysql

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	log "github.com/sirupsen/logrus"

	"github.com/estuary/cdc-relay/internal/cdcerror"
)

// requiredSettings are the server variables a MySQL source depends on for
// row-level, full-image, GTID-addressable replication.
var requiredSettings = map[string]string{
	"binlog_format":            "ROW",
	"binlog_row_metadata":      "FULL",
	"binlog_row_image":         "FULL",
	"gtid_mode":                "ON",
	"enforce_gtid_consistency": "ON",
}

// SettingsValidator checks that an upstream MySQL server is configured to
// support the replication contract this source relies on before a
// BinlogSyncer session is opened against it.
type SettingsValidator struct {
	Host, User, Password string
	Port                  uint16
}

func (v SettingsValidator) Validate() error {
	if v.Host == "" || v.User == "" || v.Password == "" || v.Port == 0 {
		return cdcerror.New(cdcerror.Configuration, "mysql settings validator requires host, user, password and port")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/", v.User, v.Password, v.Host, v.Port)
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return cdcerror.Wrap(cdcerror.Configuration, "open validation connection", err)
	}
	defer db.Close()

	names := make([]string, 0, len(requiredSettings))
	for name := range requiredSettings {
		names = append(names, name)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(names)), ",")
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}

	rows, err := db.Query(
		fmt.Sprintf("SHOW GLOBAL VARIABLES WHERE Variable_name IN (%s)", placeholders),
		args...,
	)
	if err != nil {
		return cdcerror.Wrap(cdcerror.Configuration, "query global variables", err)
	}
	defer rows.Close()

	actual := make(map[string]string, len(requiredSettings))
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return cdcerror.Wrap(cdcerror.Configuration, "scan global variable row", err)
		}
		actual[strings.ToLower(name)] = value
	}
	if err := rows.Err(); err != nil {
		return cdcerror.Wrap(cdcerror.Configuration, "iterate global variable rows", err)
	}

	for name, want := range requiredSettings {
		got, ok := actual[name]
		if !ok {
			return cdcerror.New(cdcerror.Configuration, fmt.Sprintf("mysql setting %s not found", name))
		}
		if !strings.EqualFold(got, want) {
			return cdcerror.New(cdcerror.Configuration, fmt.Sprintf("mysql setting %s is %s, expected %s", name, got, want))
		}
		log.WithFields(log.Fields{"setting": name, "value": got}).Debug("mysql source: setting verified")
	}
	return nil
}
